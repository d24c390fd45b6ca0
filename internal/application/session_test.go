package application

import (
	"context"
	"testing"
	"time"

	"admin-dashboard/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "jane", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestSessionService_LoginStoresTokenAndProfile(t *testing.T) {
	store := newMapStore()
	api := new(backendMock)
	svc := NewSessionService(store, api, nopLogger{})
	ctx := context.Background()

	api.On("Login", mock.Anything, "jane", "secret").Return("tok-1", nil)
	api.On("Profile", mock.Anything, "tok-1").Return(domain.Profile{Username: "jane", Email: "jane@example.com", Role: "admin"}, nil)

	sess, err := svc.Login(ctx, "jane", "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, sess.Role)
	assert.True(t, sess.IsAdmin())

	raw, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", string(raw))

	current, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", current.Email)
	assert.Nil(t, current.Permissions)
}

func TestSessionService_InvalidCredentialsStoreNothing(t *testing.T) {
	store := newMapStore()
	api := new(backendMock)
	svc := NewSessionService(store, api, nopLogger{})

	api.On("Login", mock.Anything, "jane", "wrong").Return("", &domain.APIError{Status: 401, Detail: "Incorrect username or password"})

	_, err := svc.Login(context.Background(), "jane", "wrong")
	require.Error(t, err)
	assert.False(t, store.has(KeyAccessToken))
	assert.False(t, store.has(KeyRole))
	api.AssertNotCalled(t, "Profile", mock.Anything, mock.Anything)
}

func TestSessionService_ProfileFailureClearsToken(t *testing.T) {
	store := newMapStore()
	api := new(backendMock)
	svc := NewSessionService(store, api, nopLogger{})

	api.On("Login", mock.Anything, "jane", "secret").Return("tok-1", nil)
	api.On("Profile", mock.Anything, "tok-1").Return(domain.Profile{}, domain.ErrTransport)

	_, err := svc.Login(context.Background(), "jane", "secret")
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.False(t, store.has(KeyAccessToken))
}

func TestSessionService_ProfilePermissionsAreKept(t *testing.T) {
	store := newMapStore()
	api := new(backendMock)
	svc := NewSessionService(store, api, nopLogger{})

	api.On("Login", mock.Anything, "emp", "secret").Return("tok-2", nil)
	api.On("Profile", mock.Anything, "tok-2").Return(domain.Profile{
		Username:    "emp",
		Role:        "employee",
		Permissions: map[string]any{"email_overview": true, "domains": "bild"},
	}, nil)

	_, err := svc.Login(context.Background(), "emp", "secret")
	require.NoError(t, err)

	sess, err := svc.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess.Permissions)
	assert.True(t, sess.Permissions.Has(domain.CapEmailOverview))
	assert.Equal(t, "bild", sess.Permissions.Domains)
}

func TestSessionService_ExpiredJWTIsAbsent(t *testing.T) {
	store := newMapStore()
	svc := NewSessionService(store, new(backendMock), nopLogger{})
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyAccessToken, []byte(signedToken(t, time.Now().Add(-time.Minute)))))
	require.NoError(t, store.Set(ctx, KeyUsername, []byte("jane")))

	_, err := svc.Current(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.False(t, store.has(KeyAccessToken))
	assert.False(t, store.has(KeyUsername))
}

func TestSessionService_ValidJWTAndOpaqueTokens(t *testing.T) {
	store := newMapStore()
	svc := NewSessionService(store, new(backendMock), nopLogger{})
	ctx := context.Background()

	valid := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, store.Set(ctx, KeyAccessToken, []byte(valid)))
	tok, err := svc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, valid, tok)

	require.NoError(t, store.Set(ctx, KeyAccessToken, []byte("opaque")))
	tok, err = svc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok)
}

func TestSessionService_LogoutAndInvalidate(t *testing.T) {
	store := newMapStore()
	svc := NewSessionService(store, new(backendMock), nopLogger{})
	ctx := context.Background()
	for _, k := range []string{KeyAccessToken, KeyUsername, KeyEmail, KeyRole} {
		require.NoError(t, store.Set(ctx, k, []byte("x")))
	}
	require.NoError(t, svc.SelectCompany(ctx, "Bild Reisen"))

	svc.Invalidate(ctx)
	assert.False(t, store.has(KeyAccessToken))
	assert.Equal(t, "Bild Reisen", svc.SelectedCompany(ctx))

	svc.Logout(ctx)
	assert.Empty(t, svc.SelectedCompany(ctx))
	_, err := svc.Current(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSessionService_ResetTokenNotFound(t *testing.T) {
	api := new(backendMock)
	svc := NewSessionService(newMapStore(), api, nopLogger{})
	api.On("VerifyResetToken", mock.Anything, "stale").Return(&domain.APIError{Status: 404, Detail: "Token not found"})
	api.On("VerifyResetToken", mock.Anything, "good").Return(nil)

	assert.ErrorIs(t, svc.VerifyResetToken(context.Background(), "stale"), domain.ErrResetTokenInvalid)
	assert.NoError(t, svc.VerifyResetToken(context.Background(), "good"))
}

func TestSessionService_ResetPasswordValidatesFirst(t *testing.T) {
	api := new(backendMock)
	svc := NewSessionService(newMapStore(), api, nopLogger{})

	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "tok", "weak"), domain.ErrInvalidInput)
	api.AssertNotCalled(t, "ResetPassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_OnEndReasons(t *testing.T) {
	store := newMapStore()
	api := new(backendMock)
	svc := NewSessionService(store, api, nopLogger{})
	ctx := context.Background()

	var reasons []EndReason
	svc.OnEnd(func(_ context.Context, r EndReason) { reasons = append(reasons, r) })

	api.On("Login", mock.Anything, "jane", "wrong").Return("", &domain.APIError{Status: 401})
	api.On("Login", mock.Anything, "jane", "secret").Return("tok-1", nil)
	api.On("Profile", mock.Anything, "tok-1").Return(domain.Profile{Username: "jane", Role: "admin"}, nil)

	_, err := svc.Login(ctx, "jane", "wrong")
	require.Error(t, err)
	assert.Empty(t, reasons, "a rejected login leaves the previous session alone")

	_, err = svc.Login(ctx, "jane", "secret")
	require.NoError(t, err)
	svc.Invalidate(ctx)
	svc.Logout(ctx)

	assert.Equal(t, []EndReason{EndReplaced, EndInvalidated, EndLogout}, reasons)
}
