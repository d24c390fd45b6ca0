package middleware

import (
	"errors"
	"net/http"
	"time"

	"admin-dashboard/internal/adapters/logger"
	"admin-dashboard/internal/application"
	"admin-dashboard/internal/domain"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	SessionCookie = "dashboard_session"
	LoginPath     = "/login"

	workspaceKey = "workspace"
	sessionKey   = "session"
)

type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// ClientWorkspace resolves the dashboard client from its cookie, issuing a new
// id on first contact, and attaches that client's workspace to the request.
func ClientWorkspace(registry *application.Registry, cfg CookieConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clientID := ""
			if ck, err := c.Cookie(SessionCookie); err == nil {
				if _, perr := uuid.Parse(ck.Value); perr == nil {
					clientID = ck.Value
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     SessionCookie,
					Value:    clientID,
					Path:     "/",
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   int(cfg.MaxAge / time.Second),
				})
			}
			ctx := logger.WithClientID(c.Request().Context(), clientID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(workspaceKey, registry.Get(clientID))
			return next(c)
		}
	}
}

func WorkspaceFrom(c echo.Context) *application.Workspace {
	ws, _ := c.Get(workspaceKey).(*application.Workspace)
	return ws
}

func SessionFrom(c echo.Context) domain.Session {
	sess, _ := c.Get(sessionKey).(domain.Session)
	return sess
}

// Unauthenticated is the response for a missing or rejected session.
func Unauthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error":    domain.UserMessage(domain.ErrUnauthenticated),
		"redirect": LoginPath,
	})
}

// RequireSession rejects requests without a logged-in session.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ws := WorkspaceFrom(c)
			if ws == nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "workspace middleware missing")
			}
			sess, err := ws.Session.Current(c.Request().Context())
			if errors.Is(err, domain.ErrUnauthenticated) {
				return Unauthenticated(c)
			}
			if err != nil {
				return err
			}
			c.Set(sessionKey, sess)
			return next(c)
		}
	}
}

// RequireAdmin must run after RequireSession.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !SessionFrom(c).IsAdmin() {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Admin access required."})
			}
			return next(c)
		}
	}
}
