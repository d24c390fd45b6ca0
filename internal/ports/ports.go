package ports

import (
	"context"
	"encoding/json"

	"admin-dashboard/internal/domain"
)

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

// KVStore is the persistent client-side key/value storage. Get returns
// domain.ErrNotFound for absent keys.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Credentials supplies the bearer token and is told when the backend rejects it.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

type Metrics interface {
	CacheResult(cache, result string)
	BackendRequest(method, route string, status int, seconds float64)
	RequestCancelled(view string)
}

type NopMetrics struct{}

func (NopMetrics) CacheResult(string, string)                  {}
func (NopMetrics) BackendRequest(string, string, int, float64) {}
func (NopMetrics) RequestCancelled(string)                     {}

// AuthAPI calls are made before a session exists, so the token is explicit.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (string, error)
	Profile(ctx context.Context, token string) (domain.Profile, error)
	VerifyResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, password string) error
}

type AdminAPI interface {
	Users(ctx context.Context) ([]domain.UserRecord, error)
	CreateUser(ctx context.Context, u domain.NewUser) (domain.UserRecord, error)
	ApproveUser(ctx context.Context, userID string) error
	RejectUser(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
	PermissionTable(ctx context.Context) ([]map[string]any, error)
	AssignPermissions(ctx context.Context, userID string, params map[string]string) error
}

type AnalyticsAPI interface {
	Companies(ctx context.Context) ([]domain.Company, error)
	Analytics(ctx context.Context, endpoint domain.Endpoint, q domain.AnalyticsQuery) (json.RawMessage, error)
	ExportExcel(ctx context.Context, month string) ([]byte, error)
}

// SessionAPI is the credentialed part of the backend.
type SessionAPI interface {
	AdminAPI
	AnalyticsAPI
}

// Backend binds the credentialed API to one session.
type Backend interface {
	AuthAPI
	Bind(creds Credentials) SessionAPI
}
