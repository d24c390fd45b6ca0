package middleware

import (
	"time"

	"admin-dashboard/internal/adapters/logger"
	"admin-dashboard/internal/ports"

	"github.com/labstack/echo/v4"
)

func RequestLogger(log ports.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				c.SetRequest(c.Request().WithContext(logger.WithRequestID(c.Request().Context(), id)))
			}
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			ctx := c.Request().Context()
			args := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route_pattern", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(started).String(),
			}
			if c.Response().Status >= 500 {
				log.Error(ctx, "http request", append(args, "error", err)...)
				return nil
			}
			log.Info(ctx, "http request", args...)
			return nil
		}
	}
}
