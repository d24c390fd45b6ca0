package http

import (
	stdhttp "net/http"

	adaptermiddleware "admin-dashboard/internal/adapters/http/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Middleware struct {
	Tracing       echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
	Metrics       echo.MiddlewareFunc
	// Workspace resolves the dashboard client; required for every /api route.
	Workspace  echo.MiddlewareFunc
	LoginLimit echo.MiddlewareFunc
}

type Handlers struct {
	Session   *SessionHandler
	Analytics *AnalyticsHandler
	Views     *ViewsHandler
	Admin     *AdminHandler
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler stdhttp.Handler
}

func newEcho(m Middleware) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	for _, mw := range []echo.MiddlewareFunc{m.Tracing, m.RequestLogger, m.Metrics} {
		if mw != nil {
			e.Use(mw)
		}
	}
	return e
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}

func NewMainRouter(h Handlers, m Middleware) *echo.Echo {
	e := newEcho(m)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(stdhttp.StatusOK, map[string]string{"status": "ok"})
	})
	if h.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(h.MetricsHandler))
	}

	api := e.Group("/api", optional(m.Workspace)...)
	api.POST("/login", h.Session.Login, optional(m.LoginLimit)...)
	api.POST("/logout", h.Session.Logout)
	api.GET("/reset-password/:token", h.Session.VerifyResetToken)
	api.POST("/reset-password", h.Session.ResetPassword, optional(m.LoginLimit)...)

	authed := api.Group("", adaptermiddleware.RequireSession())
	authed.GET("/profile", h.Session.Profile)
	authed.PUT("/company", h.Session.SelectCompany)
	authed.GET("/companies", h.Analytics.Companies)
	authed.GET("/analytics/:endpoint", h.Analytics.Panel)
	authed.GET("/overview", h.Analytics.Overview)
	authed.POST("/export", h.Analytics.Export)

	authed.GET("/views", h.Views.List)
	authed.GET("/views/:view", h.Views.Get)
	authed.PUT("/views/:view/filters", h.Views.SetFilters)
	authed.POST("/views/:view/cancel", h.Views.Cancel)
	authed.DELETE("/views/:view", h.Views.Close)

	admin := authed.Group("/admin", adaptermiddleware.RequireAdmin())
	admin.GET("/users", h.Admin.Users)
	admin.POST("/users", h.Admin.CreateUser)
	admin.POST("/users/:id/approve", h.Admin.Approve)
	admin.POST("/users/:id/reject", h.Admin.Reject)
	admin.DELETE("/users/:id", h.Admin.DeleteUser)
	admin.GET("/users/:id/permissions", h.Admin.Permissions)
	admin.PUT("/users/:id/permissions", h.Admin.SavePermissions)
	admin.POST("/users/:id/permissions/groups/:group/toggle", h.Admin.ToggleGroup)
	admin.POST("/users/:id/permissions/domains/toggle", h.Admin.ToggleDomain)
	return e
}
