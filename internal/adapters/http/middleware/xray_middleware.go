package middleware

import (
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
)

// XRayMiddleware opens a segment per request and records method, url and status on it.
func XRayMiddleware(segmentName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, seg := xray.BeginSegment(c.Request().Context(), segmentName)
			req := c.Request().Clone(ctx)
			c.SetRequest(req)

			seg.Lock()
			seg.GetHTTP().GetRequest().Method = req.Method
			seg.GetHTTP().GetRequest().URL = req.URL.String()
			seg.GetHTTP().GetRequest().ClientIP = c.RealIP()
			seg.GetHTTP().GetRequest().UserAgent = req.UserAgent()
			seg.Unlock()

			err := next(c)

			seg.Lock()
			seg.GetHTTP().GetResponse().Status = c.Response().Status
			seg.Unlock()
			seg.Close(err)
			return err
		}
	}
}

// Tracing returns XRayMiddleware when enabled and a pass-through otherwise.
func Tracing(enabled bool, segmentName string) echo.MiddlewareFunc {
	if enabled {
		return XRayMiddleware(segmentName)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}
