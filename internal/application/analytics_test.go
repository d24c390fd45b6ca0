package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"admin-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAnalytics(api *backendMock) *AnalyticsService {
	companies := NewCachedFetcher[[]domain.Company](newMapStore(), nopLogger{}, CacheConfig{Name: "companies"})
	panels := NewCachedFetcher[json.RawMessage](newMapStore(), nopLogger{}, CacheConfig{Name: "analytics"})
	return NewAnalyticsService(api, companies, panels, nopLogger{})
}

func employee(mutate func(*domain.PermissionSet)) domain.Session {
	set := domain.DefaultPermissionSet()
	mutate(&set)
	return domain.Session{Username: "emp", Role: domain.RoleEmployee, Permissions: &set}
}

var march = domain.AnalyticsQuery{
	Range: domain.DateRange{
		StartDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	},
	Company: "Bild Reisen",
}

var endOfMarch = time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC)

func TestAuthorize(t *testing.T) {
	admin := domain.Session{Role: domain.RoleAdmin}
	assert.NoError(t, Authorize(admin, domain.EndpointHistory, march, endOfMarch))

	emp := employee(func(p *domain.PermissionSet) { _ = p.Set(domain.CapCallHistory, true) })
	assert.NoError(t, Authorize(emp, domain.EndpointHistory, march, endOfMarch))
	assert.ErrorIs(t, Authorize(emp, domain.EndpointTasksKPIs, march, endOfMarch), domain.ErrPermissionDeny)

	scoped := employee(func(p *domain.PermissionSet) {
		_ = p.Set(domain.CapCallHistory, true)
		p.Domains = "bild"
		p.DateFilter = "this_month"
	})
	q := march
	q.Domain = "Bild Reisen"
	assert.NoError(t, Authorize(scoped, domain.EndpointHistory, q, endOfMarch))
	q.Domain = "UrlaubsguruKF"
	assert.ErrorIs(t, Authorize(scoped, domain.EndpointHistory, q, endOfMarch), domain.ErrPermissionDeny)
	q.Domain = ""
	assert.ErrorIs(t, Authorize(scoped, domain.EndpointHistory, q, endOfMarch), domain.ErrPermissionDeny)

	q.Domain = "bild"
	aprilNow := endOfMarch.AddDate(0, 0, 10)
	assert.ErrorIs(t, Authorize(scoped, domain.EndpointHistory, q, aprilNow), domain.ErrPermissionDeny)

	allTime := q
	allTime.Range = domain.DateRange{IsAllTime: true}
	assert.ErrorIs(t, Authorize(scoped, domain.EndpointHistory, allTime, endOfMarch), domain.ErrPermissionDeny)
}

func TestScopeQuery(t *testing.T) {
	single := employee(func(p *domain.PermissionSet) { p.Domains = "bild" })
	several := employee(func(p *domain.PermissionSet) { p.Domains = "bild,gurukf" })
	open := employee(func(*domain.PermissionSet) {})

	tests := []struct {
		name       string
		sess       domain.Session
		domain     string
		company    string
		wantDomain string
		wantErr    bool
	}{
		{"unrestricted keeps empty domain", open, "", "", "", false},
		{"admin is never scoped", domain.Session{Role: domain.RoleAdmin}, "", "Anything", "", false},
		{"single domain is filled in", single, "", "", "bild", false},
		{"several domains require a choice", several, "", "", "", true},
		{"allowed display name", several, "UrlaubsguruKF", "", "UrlaubsguruKF", false},
		{"foreign domain", single, "gurukf", "", "", true},
		{"foreign company", single, "bild", "5vorflug", "", true},
		{"own company", single, "", "Bild Reisen", "bild", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := domain.AnalyticsQuery{Range: march.Range, Domain: tc.domain, Company: tc.company}
			got, err := ScopeQuery(tc.sess, q)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrPermissionDeny)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantDomain, got.Domain)
		})
	}
}

func TestAnalyticsService_CompaniesNarrowedToDomains(t *testing.T) {
	api := new(backendMock)
	svc := newAnalytics(api)
	api.On("Companies", mock.Anything).Return([]domain.Company{
		{Company: "5vorflug"}, {Company: "Bild Reisen"}, {Company: "UrlaubsguruKF"},
	}, nil)

	got, err := svc.Companies(context.Background(), employee(func(p *domain.PermissionSet) {
		_ = p.Set(domain.CapAnalyticsCompanies, true)
		p.Domains = "gurukf,bild"
	}))
	require.NoError(t, err)
	assert.Equal(t, []domain.Company{{Company: "Bild Reisen"}, {Company: "UrlaubsguruKF"}}, got)

	all, err := svc.Companies(context.Background(), domain.Session{Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	svc.Wait()
}

func TestAnalyticsService_PanelUsesCache(t *testing.T) {
	api := new(backendMock)
	svc := newAnalytics(api)
	api.On("Analytics", mock.Anything, domain.EndpointHistory, march).Return(json.RawMessage(`{"calls":3}`), nil)

	admin := domain.Session{Role: domain.RoleAdmin}
	first, err := svc.Panel(context.Background(), admin, domain.EndpointHistory, march)
	require.NoError(t, err)
	second, err := svc.Panel(context.Background(), admin, domain.EndpointHistory, march)
	require.NoError(t, err)
	svc.Wait()

	assert.JSONEq(t, `{"calls":3}`, string(first))
	assert.JSONEq(t, string(first), string(second))
	// one live fetch plus one background refresh
	api.AssertNumberOfCalls(t, "Analytics", 2)
}

func TestAnalyticsService_PanelsCollectsPerPanelErrors(t *testing.T) {
	api := new(backendMock)
	svc := newAnalytics(api)
	api.On("Analytics", mock.Anything, domain.EndpointTasksKPIs, march).Return(json.RawMessage(`{"open":1}`), nil)
	api.On("Analytics", mock.Anything, domain.EndpointTasksOverview, march).Return(json.RawMessage(nil), &domain.APIError{Status: 500, Detail: "query failed"})

	emp := employee(func(p *domain.PermissionSet) {
		_ = p.Set(domain.CapTaskKPIs, true)
		_ = p.Set(domain.CapTaskOverview, true)
	})
	res, err := svc.Panels(context.Background(), emp, []domain.Endpoint{
		domain.EndpointTasksKPIs, domain.EndpointTasksOverview, domain.EndpointTasksPerformance,
	}, march)
	require.NoError(t, err)

	assert.Len(t, res.Panels, 1)
	assert.Equal(t, "query failed", res.Errors[domain.EndpointTasksOverview])
	assert.NotContains(t, res.Panels, domain.EndpointTasksPerformance)
	api.AssertNotCalled(t, "Analytics", mock.Anything, domain.EndpointTasksPerformance, mock.Anything)
}

func TestAnalyticsService_OverviewNothingPermitted(t *testing.T) {
	svc := newAnalytics(new(backendMock))
	_, err := svc.Overview(context.Background(), employee(func(*domain.PermissionSet) {}), march)
	assert.ErrorIs(t, err, domain.ErrPermissionDeny)
}

func TestAnalyticsService_Export(t *testing.T) {
	api := new(backendMock)
	svc := newAnalytics(api)
	api.On("ExportExcel", mock.Anything, "2024-07").Return([]byte("xlsx"), nil)

	_, err := svc.Export(context.Background(), employee(func(*domain.PermissionSet) {}), "2024-07")
	assert.ErrorIs(t, err, domain.ErrPermissionDeny)

	_, err = svc.Export(context.Background(), domain.Session{Role: domain.RoleAdmin}, "July")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	data, err := svc.Export(context.Background(), domain.Session{Role: domain.RoleAdmin}, "2024-07")
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), data)
}

func TestAnalyticsService_CompaniesGated(t *testing.T) {
	api := new(backendMock)
	svc := newAnalytics(api)
	api.On("Companies", mock.Anything).Return([]domain.Company{{Company: "5vorflug"}}, nil)

	_, err := svc.Companies(context.Background(), employee(func(*domain.PermissionSet) {}))
	assert.ErrorIs(t, err, domain.ErrPermissionDeny)

	got, err := svc.Companies(context.Background(), employee(func(p *domain.PermissionSet) {
		_ = p.Set(domain.CapAnalyticsCompanies, true)
	}))
	require.NoError(t, err)
	assert.Equal(t, "5vorflug", got[0].Company)
	svc.Wait()
}
