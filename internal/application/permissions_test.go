package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"admin-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// permissionTable stores assigned permissions the way the backend echoes
// them: query parameters as strings, ids as numbers.
type permissionTable struct {
	backendMock
	mu   sync.Mutex
	rows map[string]map[string]string
	fail error
}

func (p *permissionTable) PermissionTable(context.Context) ([]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	var out []map[string]any
	for id, params := range p.rows {
		rec := map[string]any{"user_id": id}
		if id == "12" {
			rec["user_id"] = float64(12)
		}
		for k, v := range params {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *permissionTable) AssignPermissions(_ context.Context, userID string, params map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.rows[userID] = params
	return nil
}

func TestPermissionService_SaveThenLoadRoundTrips(t *testing.T) {
	api := &permissionTable{rows: map[string]map[string]string{}}
	svc := NewPermissionService(api, nopLogger{})
	ctx := context.Background()

	set := domain.DefaultPermissionSet()
	set.DateFilter = "today,last_7_days"
	set.Domains = "5vorflug,bild"
	require.NoError(t, set.ToggleGroup(domain.GroupEmail))
	require.NoError(t, set.Set(domain.CapAnalyticsExport, true))

	for _, id := range []string{"12", "abc"} {
		require.NoError(t, svc.Save(ctx, id, set))
		got, err := svc.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, set, got, "user %s", id)
	}
}

func TestPermissionService_LoadFailsSoft(t *testing.T) {
	api := &permissionTable{fail: domain.ErrTransport}
	svc := NewPermissionService(api, nopLogger{})

	got, err := svc.Load(context.Background(), "12")
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, domain.DefaultPermissionSet(), got)
}

func TestPermissionService_LoadUnknownUserIsDefaults(t *testing.T) {
	api := new(backendMock)
	api.On("PermissionTable", mock.Anything).Return([]map[string]any{{"user_id": "1", "task_kpis": true}}, nil)
	svc := NewPermissionService(api, nopLogger{})

	got, err := svc.Load(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPermissionSet(), got)
}

func TestPermissionEditor_FailedSaveKeepsEdits(t *testing.T) {
	api := &permissionTable{rows: map[string]map[string]string{}}
	svc := NewPermissionService(api, nopLogger{})
	ctx := context.Background()
	editor := NewPermissionEditor(ctx, svc, "12")

	require.NoError(t, editor.ToggleGroup(domain.GroupTask))
	editor.ToggleDomain("UrlaubsguruKF")

	api.fail = &domain.APIError{Status: 500, Detail: "Database unavailable"}
	require.Error(t, editor.Save(ctx))
	state := editor.State()
	assert.Equal(t, "Database unavailable", state.Error)
	assert.True(t, state.Groups["task"])
	assert.Equal(t, "gurukf", state.Permissions.Domains)

	api.fail = nil
	require.NoError(t, editor.Save(ctx))
	assert.Empty(t, editor.State().Error)

	reloaded, err := svc.Load(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, state.Permissions, reloaded)
}

func TestPermissionEditor_LoadErrorIsSurfaced(t *testing.T) {
	api := &permissionTable{fail: errors.New("boom")}
	editor := NewPermissionEditor(context.Background(), NewPermissionService(api, nopLogger{}), "12")
	assert.NotEmpty(t, editor.State().Error)
	assert.Equal(t, domain.DefaultPermissionSet(), editor.State().Permissions)
}
