package application

import (
	"context"
	"encoding/json"
	"sync"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"github.com/stretchr/testify/mock"
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Debug(context.Context, string, ...any) {}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]byte{}} }

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type backendMock struct{ mock.Mock }

func (m *backendMock) Bind(ports.Credentials) ports.SessionAPI { return m }

func (m *backendMock) Login(ctx context.Context, username, password string) (string, error) {
	args := m.Called(ctx, username, password)
	return args.String(0), args.Error(1)
}

func (m *backendMock) Profile(ctx context.Context, token string) (domain.Profile, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.Profile), args.Error(1)
}

func (m *backendMock) VerifyResetToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *backendMock) ResetPassword(ctx context.Context, token, password string) error {
	args := m.Called(ctx, token, password)
	return args.Error(0)
}

func (m *backendMock) Users(ctx context.Context) ([]domain.UserRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.UserRecord), args.Error(1)
}

func (m *backendMock) CreateUser(ctx context.Context, u domain.NewUser) (domain.UserRecord, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(domain.UserRecord), args.Error(1)
}

func (m *backendMock) ApproveUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *backendMock) RejectUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *backendMock) DeleteUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *backendMock) PermissionTable(ctx context.Context) ([]map[string]any, error) {
	args := m.Called(ctx)
	return args.Get(0).([]map[string]any), args.Error(1)
}

func (m *backendMock) AssignPermissions(ctx context.Context, userID string, params map[string]string) error {
	args := m.Called(ctx, userID, params)
	return args.Error(0)
}

func (m *backendMock) Companies(ctx context.Context) ([]domain.Company, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Company), args.Error(1)
}

func (m *backendMock) Analytics(ctx context.Context, endpoint domain.Endpoint, q domain.AnalyticsQuery) (json.RawMessage, error) {
	args := m.Called(ctx, endpoint, q)
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *backendMock) ExportExcel(ctx context.Context, month string) ([]byte, error) {
	args := m.Called(ctx, month)
	return args.Get(0).([]byte), args.Error(1)
}
