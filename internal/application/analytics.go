package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"golang.org/x/sync/errgroup"
)

const (
	companiesCacheKey = "companies"
	panelConcurrency  = 4
)

// PanelResult holds the panels of one view; a panel that failed has an entry in Errors instead.
type PanelResult struct {
	Query  domain.AnalyticsQuery               `json:"query"`
	Panels map[domain.Endpoint]json.RawMessage `json:"panels"`
	Errors map[domain.Endpoint]string          `json:"errors,omitempty"`
}

type AnalyticsService struct {
	api       ports.AnalyticsAPI
	companies *CachedFetcher[[]domain.Company]
	panels    *CachedFetcher[json.RawMessage]
	logger    ports.Logger
	now       func() time.Time
}

func NewAnalyticsService(api ports.AnalyticsAPI, companies *CachedFetcher[[]domain.Company], panels *CachedFetcher[json.RawMessage], logger ports.Logger) *AnalyticsService {
	return &AnalyticsService{api: api, companies: companies, panels: panels, logger: logger, now: time.Now}
}

// Companies returns the company list, narrowed to the session's domains when it has any.
func (s *AnalyticsService) Companies(ctx context.Context, sess domain.Session) ([]domain.Company, error) {
	if err := authorize(sess, domain.CapAnalyticsCompanies); err != nil {
		return nil, err
	}
	all, err := s.companies.FetchWithCache(ctx, companiesCacheKey, s.api.Companies)
	if err != nil {
		return nil, err
	}
	if !restricted(sess) {
		return all, nil
	}
	out := make([]domain.Company, 0, len(all))
	for _, c := range all {
		if sess.Permissions.AllowsDomain(domain.DomainKey(c.Company)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func restricted(sess domain.Session) bool {
	return !sess.IsAdmin() && sess.Permissions != nil && sess.Permissions.RestrictsDomains()
}

// ScopeQuery applies the session's domains to q. A restricted session with a
// single domain gets it filled in; with several it must name one.
func ScopeQuery(sess domain.Session, q domain.AnalyticsQuery) (domain.AnalyticsQuery, error) {
	if !restricted(sess) {
		return q, nil
	}
	p := sess.Permissions
	if q.Domain == "" {
		keys := p.DomainKeys()
		if len(keys) > 1 {
			return q, fmt.Errorf("a domain filter is required: %w", domain.ErrPermissionDeny)
		}
		q.Domain = keys[0]
	}
	if !p.AllowsDomain(domain.DomainKey(q.Domain)) {
		return q, fmt.Errorf("domain %q: %w", q.Domain, domain.ErrPermissionDeny)
	}
	if q.Company != "" && !p.AllowsDomain(domain.DomainKey(q.Company)) {
		return q, fmt.Errorf("company %q: %w", q.Company, domain.ErrPermissionDeny)
	}
	return q, nil
}

// Authorize checks the endpoint capability and the scalar filters of the
// session at now. Admins and sessions without a permission set are not gated.
// q is expected to have passed ScopeQuery.
func Authorize(sess domain.Session, endpoint domain.Endpoint, q domain.AnalyticsQuery, now time.Time) error {
	capability, ok := domain.CapabilityFor(endpoint)
	if !ok {
		return domain.ErrNotFound
	}
	if err := authorize(sess, capability); err != nil {
		return err
	}
	if sess.IsAdmin() || sess.Permissions == nil {
		return nil
	}
	p := sess.Permissions
	if p.RestrictsDomains() && !p.AllowsDomain(domain.DomainKey(q.Domain)) {
		return fmt.Errorf("domain %q: %w", q.Domain, domain.ErrPermissionDeny)
	}
	if !p.AllowsRange(q.Range, now) {
		return fmt.Errorf("date range: %w", domain.ErrPermissionDeny)
	}
	return nil
}

func authorize(sess domain.Session, capability domain.CapabilityKey) error {
	if sess.IsAdmin() || sess.Permissions == nil {
		return nil
	}
	if !sess.Permissions.Has(capability) {
		return fmt.Errorf("%s: %w", capability, domain.ErrPermissionDeny)
	}
	return nil
}

func (s *AnalyticsService) Panel(ctx context.Context, sess domain.Session, endpoint domain.Endpoint, q domain.AnalyticsQuery) (json.RawMessage, error) {
	if err := q.Range.Validate(); err != nil {
		return nil, err
	}
	q, err := ScopeQuery(sess, q)
	if err != nil {
		return nil, err
	}
	if err := Authorize(sess, endpoint, q, s.now()); err != nil {
		return nil, err
	}
	key := domain.CacheKey(string(endpoint), q.Company, q.Range, q.Domain)
	return s.panels.FetchWithCache(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return s.api.Analytics(ctx, endpoint, q)
	})
}

// Panels fetches the permitted endpoints concurrently. It fails only when no
// endpoint is permitted or every permitted one failed.
func (s *AnalyticsService) Panels(ctx context.Context, sess domain.Session, endpoints []domain.Endpoint, q domain.AnalyticsQuery) (PanelResult, error) {
	out := PanelResult{
		Query:  q,
		Panels: map[domain.Endpoint]json.RawMessage{},
		Errors: map[domain.Endpoint]string{},
	}
	if err := q.Range.Validate(); err != nil {
		return out, err
	}
	q, err := ScopeQuery(sess, q)
	if err != nil {
		return out, err
	}
	out.Query = q

	now := s.now()
	var permitted []domain.Endpoint
	for _, e := range endpoints {
		if err := Authorize(sess, e, q, now); err == nil {
			permitted = append(permitted, e)
		}
	}
	if len(permitted) == 0 {
		return out, domain.ErrPermissionDeny
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(panelConcurrency)
	for _, e := range permitted {
		g.Go(func() error {
			data, err := s.Panel(ctx, sess, e, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				out.Errors[e] = domain.UserMessage(err)
				return nil
			}
			out.Panels[e] = data
			return nil
		})
	}
	_ = g.Wait()

	if len(out.Panels) == 0 && firstErr != nil {
		return out, firstErr
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

func (s *AnalyticsService) Overview(ctx context.Context, sess domain.Session, q domain.AnalyticsQuery) (PanelResult, error) {
	return s.Panels(ctx, sess, domain.AnalyticsEndpoints(), q)
}

func (s *AnalyticsService) Export(ctx context.Context, sess domain.Session, month string) ([]byte, error) {
	if err := authorize(sess, domain.CapAnalyticsExport); err != nil {
		return nil, err
	}
	m, err := domain.ExportMonth(month)
	if err != nil {
		return nil, err
	}
	data, err := s.api.ExportExcel(ctx, m)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("export returned an empty file")
	}
	s.logger.Info(ctx, "export downloaded", "month", m, "bytes", len(data))
	return data, nil
}

// Purge drops the cached analytics payloads. The company list is shared by
// every user of the client and survives.
func (s *AnalyticsService) Purge(ctx context.Context) int {
	return s.panels.Purge(ctx)
}

// Wait blocks until background cache refreshes have finished.
func (s *AnalyticsService) Wait() {
	s.companies.Wait()
	s.panels.Wait()
}
