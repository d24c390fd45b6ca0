package application

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"
)

// ViewSpec describes a dashboard view: the panels it shows and its request ceiling.
type ViewSpec struct {
	Name      string
	Endpoints []domain.Endpoint
	Timeout   time.Duration
}

var viewSpecs = map[string]ViewSpec{
	"email": {
		Name:      "email",
		Endpoints: []domain.Endpoint{domain.EndpointAnalyticsEmail, domain.EndpointEmailOverview, domain.EndpointEmailPerformance},
		Timeout:   10 * time.Second,
	},
	"tasks": {
		Name:      "tasks",
		Endpoints: []domain.Endpoint{domain.EndpointTasksKPIs, domain.EndpointTasksOverview, domain.EndpointTasksPerformance},
		Timeout:   15 * time.Second,
	},
	"history": {
		Name:      "history",
		Endpoints: []domain.Endpoint{domain.EndpointHistory},
		Timeout:   5 * time.Second,
	},
	"overview": {
		Name:      "overview",
		Endpoints: domain.AnalyticsEndpoints(),
		Timeout:   15 * time.Second,
	},
}

func LookupView(name string) (ViewSpec, error) {
	v, ok := viewSpecs[name]
	if !ok {
		return ViewSpec{}, domain.ErrNotFound
	}
	return v, nil
}

func ViewNames() []string {
	out := make([]string, 0, len(viewSpecs))
	for name := range viewSpecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type DashboardView = Coordinator[domain.AnalyticsQuery, PanelResult]

// Settings are the process-wide knobs shared by every workspace.
type Settings struct {
	CompaniesTTL   time.Duration
	PanelTTL       time.Duration
	RefreshTimeout time.Duration
	// RequestTimeout overrides the per-view ceiling when set.
	RequestTimeout time.Duration
}

// Workspace is the state of one dashboard client: session, caches, open views
// and admin editors.
type Workspace struct {
	ID          string
	Session     *SessionService
	Analytics   *AnalyticsService
	Users       *UserWorkflow
	Permissions *PermissionService

	base     context.Context
	settings Settings
	logger   ports.Logger
	metrics  ports.Metrics

	mu       sync.Mutex
	views    map[string]*DashboardView
	editors  map[string]*PermissionEditor
	lastSeen time.Time
	detach   func()
	retired  sync.WaitGroup
}

// NewWorkspace wires the services of one client. persistent keeps the session
// and company list; volatile holds analytics payloads.
func NewWorkspace(base context.Context, id string, backend ports.Backend, persistent, volatile ports.KVStore, logger ports.Logger, metrics ports.Metrics, settings Settings) *Workspace {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	session := NewSessionService(persistent, backend, logger)
	api := session.API()
	companies := NewCachedFetcher[[]domain.Company](persistent, logger, CacheConfig{
		Name:           "companies",
		TTL:            settings.CompaniesTTL,
		RefreshTimeout: settings.RefreshTimeout,
		Metrics:        metrics,
	})
	panels := NewCachedFetcher[json.RawMessage](volatile, logger, CacheConfig{
		Name:           "analytics",
		TTL:            settings.PanelTTL,
		RefreshTimeout: settings.RefreshTimeout,
		Metrics:        metrics,
	})
	w := &Workspace{
		ID:          id,
		Session:     session,
		Analytics:   NewAnalyticsService(api, companies, panels, logger),
		Users:       NewUserWorkflow(api, logger),
		Permissions: NewPermissionService(api, logger),
		base:        base,
		settings:    settings,
		logger:      logger,
		metrics:     metrics,
		views:       map[string]*DashboardView{},
		editors:     map[string]*PermissionEditor{},
		lastSeen:    time.Now(),
	}
	session.OnEnd(w.sessionEnded)
	return w
}

func (w *Workspace) sessionEnded(ctx context.Context, reason EndReason) {
	w.Reset(ctx)
	w.logger.Info(ctx, "workspace reset", "reason", reason)
	if reason == EndReplaced {
		return
	}
	w.mu.Lock()
	detach := w.detach
	w.mu.Unlock()
	if detach != nil {
		detach()
	}
}

// Reset discards everything derived from the current session: mounted views
// with their data, permission editors, the admin working set and cached panels.
func (w *Workspace) Reset(ctx context.Context) {
	w.mu.Lock()
	views := w.views
	w.views = map[string]*DashboardView{}
	w.editors = map[string]*PermissionEditor{}
	w.mu.Unlock()

	for _, v := range views {
		v.OnUnmount()
		w.retired.Add(1)
		go func() {
			defer w.retired.Done()
			v.Wait()
		}()
	}
	w.Users.Reset()
	w.Analytics.Purge(ctx)
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// View returns the mounted view, mounting it on first use.
func (w *Workspace) View(name string) (*DashboardView, error) {
	spec, err := LookupView(name)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.views[name]; ok {
		return v, nil
	}
	timeout := spec.Timeout
	if w.settings.RequestTimeout > 0 {
		timeout = w.settings.RequestTimeout
	}
	fetch := func(ctx context.Context, q domain.AnalyticsQuery) (PanelResult, error) {
		sess, err := w.Session.Current(ctx)
		if err != nil {
			return PanelResult{}, err
		}
		return w.Analytics.Panels(ctx, sess, spec.Endpoints, q)
	}
	v := NewCoordinator(w.base, fetch, w.logger, CoordinatorConfig{Name: spec.Name, Timeout: timeout, Metrics: w.metrics})
	w.views[name] = v
	return v, nil
}

// CloseView unmounts the view; responses still in flight are discarded.
func (w *Workspace) CloseView(name string) error {
	w.mu.Lock()
	v, ok := w.views[name]
	delete(w.views, name)
	w.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	v.OnUnmount()
	return nil
}

// Editor returns the permission editor for userID, loading it on first use.
func (w *Workspace) Editor(ctx context.Context, userID string) *PermissionEditor {
	w.mu.Lock()
	e, ok := w.editors[userID]
	w.mu.Unlock()
	if ok {
		return e
	}
	e = NewPermissionEditor(ctx, w.Permissions, userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.editors[userID]; ok {
		return existing
	}
	w.editors[userID] = e
	return e
}

// DiscardEditor drops the edit state so the next Editor call reloads it.
func (w *Workspace) DiscardEditor(userID string) {
	w.mu.Lock()
	delete(w.editors, userID)
	w.mu.Unlock()
}

// Close unmounts every view and waits for outstanding work.
func (w *Workspace) Close() {
	w.mu.Lock()
	views := make([]*DashboardView, 0, len(w.views))
	for _, v := range w.views {
		views = append(views, v)
	}
	w.views = map[string]*DashboardView{}
	w.mu.Unlock()
	for _, v := range views {
		v.OnUnmount()
		v.Wait()
	}
	w.retired.Wait()
	w.Analytics.Wait()
}

// StoreFactory returns the persistent and volatile stores of one client.
type StoreFactory func(clientID string) (persistent, volatile ports.KVStore)

// Registry hands out one Workspace per client id.
type Registry struct {
	base     context.Context
	backend  ports.Backend
	stores   StoreFactory
	logger   ports.Logger
	metrics  ports.Metrics
	settings Settings

	now        func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewRegistry(base context.Context, backend ports.Backend, stores StoreFactory, logger ports.Logger, metrics ports.Metrics, settings Settings) *Registry {
	return &Registry{
		base:       base,
		backend:    backend,
		stores:     stores,
		logger:     logger,
		metrics:    metrics,
		settings:   settings,
		now:        time.Now,
		workspaces: map[string]*Workspace{},
	}
}

// Get returns the workspace of clientID, creating it on first use, and marks it as seen.
func (r *Registry) Get(clientID string) *Workspace {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workspaces[clientID]; ok {
		w.touch(now)
		return w
	}
	persistent, volatile := r.stores(clientID)
	w := NewWorkspace(r.base, clientID, r.backend, persistent, volatile, r.logger, r.metrics, r.settings)
	w.touch(now)
	w.mu.Lock()
	w.detach = func() { r.forget(clientID, w) }
	w.mu.Unlock()
	r.workspaces[clientID] = w
	return w
}

// forget removes w without closing it; requests still holding it finish normally.
func (r *Registry) forget(clientID string, w *Workspace) {
	r.mu.Lock()
	if r.workspaces[clientID] == w {
		delete(r.workspaces, clientID)
	}
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// EvictIdle closes the workspaces not seen within idle and reports how many
// went. Stored sessions are kept, so a returning client resumes where it was.
func (r *Registry) EvictIdle(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []*Workspace
	for id, w := range r.workspaces {
		if w.idleSince().Before(cutoff) {
			stale = append(stale, w)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()
	for _, w := range stale {
		w.Close()
	}
	return len(stale)
}

// Drop closes and forgets the workspace of clientID.
func (r *Registry) Drop(clientID string) {
	r.mu.Lock()
	w, ok := r.workspaces[clientID]
	delete(r.workspaces, clientID)
	r.mu.Unlock()
	if ok {
		w.Close()
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.workspaces))
	for _, w := range r.workspaces {
		all = append(all, w)
	}
	r.workspaces = map[string]*Workspace{}
	r.mu.Unlock()
	for _, w := range all {
		w.Close()
	}
}
