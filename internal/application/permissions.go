package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"
)

type PermissionService struct {
	api    ports.AdminAPI
	logger ports.Logger
}

func NewPermissionService(api ports.AdminAPI, logger ports.Logger) *PermissionService {
	return &PermissionService{api: api, logger: logger}
}

// Load returns the user's permission set merged over the defaults. On failure
// the defaults are returned together with the error.
func (s *PermissionService) Load(ctx context.Context, userID string) (domain.PermissionSet, error) {
	defaults := domain.DefaultPermissionSet()
	if userID == "" {
		return defaults, domain.ErrInvalidInput
	}
	table, err := s.api.PermissionTable(ctx)
	if err != nil {
		s.logger.Warn(ctx, "permission table unavailable, using defaults", "user_id", userID, "error", err)
		return defaults, err
	}
	for _, rec := range table {
		if recordUserID(rec["user_id"]) == userID {
			return domain.PermissionSetFromRecord(rec), nil
		}
	}
	s.logger.Debug(ctx, "no permission record, using defaults", "user_id", userID)
	return defaults, nil
}

// Save persists the whole set in one request.
func (s *PermissionService) Save(ctx context.Context, userID string, set domain.PermissionSet) error {
	if userID == "" {
		return domain.ErrInvalidInput
	}
	if err := s.api.AssignPermissions(ctx, userID, set.Encode()); err != nil {
		return fmt.Errorf("save permissions for %s: %w", userID, err)
	}
	s.logger.Info(ctx, "permissions saved", "user_id", userID)
	return nil
}

func recordUserID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	case int:
		return strconv.Itoa(id)
	}
	return ""
}

// PermissionEditor is the in-memory edit state of one user's permissions.
// A failed save keeps the edits so the admin can retry.
type PermissionEditor struct {
	svc    *PermissionService
	userID string

	mu  sync.Mutex
	set domain.PermissionSet
	err string
}

type EditorState struct {
	UserID      string               `json:"user_id"`
	Permissions domain.PermissionSet `json:"permissions"`
	Groups      map[string]bool      `json:"groups"`
	Error       string               `json:"error,omitempty"`
}

func NewPermissionEditor(ctx context.Context, svc *PermissionService, userID string) *PermissionEditor {
	set, err := svc.Load(ctx, userID)
	e := &PermissionEditor{svc: svc, userID: userID, set: set}
	if err != nil {
		e.err = domain.UserMessage(err)
	}
	return e
}

func (e *PermissionEditor) State() EditorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	groups := make(map[string]bool, len(domain.PermissionGroups()))
	for _, g := range domain.PermissionGroups() {
		groups[string(g)], _ = e.set.GroupValue(g)
	}
	return EditorState{UserID: e.userID, Permissions: e.set.Clone(), Groups: groups, Error: e.err}
}

func (e *PermissionEditor) ToggleGroup(g domain.PermissionGroup) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.ToggleGroup(g)
}

func (e *PermissionEditor) ToggleDomain(displayName string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set.ToggleDomain(displayName)
}

// Replace overwrites the edit state with set, e.g. from a submitted form.
func (e *PermissionEditor) Replace(set domain.PermissionSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := domain.DefaultPermissionSet()
	merged.ScalarFilters = set.ScalarFilters
	for k, v := range set.Capabilities {
		_ = merged.Set(k, v)
	}
	e.set = merged
}

func (e *PermissionEditor) Save(ctx context.Context) error {
	e.mu.Lock()
	set := e.set.Clone()
	e.mu.Unlock()

	err := e.svc.Save(ctx, e.userID, set)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.err = domain.UserMessage(err)
		return err
	}
	e.err = ""
	return nil
}
