// Package lambda runs the dashboard router behind API Gateway HTTP APIs.
//
// Each invocation is a plain request/response exchange. Work the server does
// after answering (view fetches started by PUT /api/views/:view/filters,
// background cache refreshes, the cron jobs) only progresses while an
// invocation is running and is lost when the execution environment is frozen
// or recycled. Clients in this mode should read views with ?wait=true and use
// the dynamodb or redis store so sessions survive across environments.
package lambda

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/echo"
	"github.com/labstack/echo/v4"
)

// Handler serves API Gateway HTTP API (payload v2) events with the dashboard router.
type Handler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

func NewHandler(e *echo.Echo) Handler {
	adapter := echoadapter.NewV2(e)
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}
}

// Start blocks serving Lambda invocations.
func Start(e *echo.Echo) {
	awslambda.Start(NewHandler(e))
}
