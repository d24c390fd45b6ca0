package application

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"
)

// RollbackStatus is what a failed approve or reject reverts to.
const RollbackStatus = domain.StatusPending

// UserWorkflow holds the admin working set of user records. Actions on the
// same user are exclusive while one is in flight; different users run concurrently.
type UserWorkflow struct {
	api    ports.AdminAPI
	logger ports.Logger

	mu    sync.Mutex
	users []domain.UserRecord
	busy  map[string]bool
}

func NewUserWorkflow(api ports.AdminAPI, logger ports.Logger) *UserWorkflow {
	return &UserWorkflow{api: api, logger: logger, busy: map[string]bool{}}
}

func (w *UserWorkflow) Load(ctx context.Context) ([]domain.UserRecord, error) {
	users, err := w.api.Users(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Status == "" {
			users[i].Status = domain.StatusPending
		}
	}
	w.mu.Lock()
	w.users = slices.Clone(users)
	w.mu.Unlock()
	return users, nil
}

func (w *UserWorkflow) Users() []domain.UserRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.users)
}

// Reset forgets the working set. Actions still in flight finish against the
// backend but no longer change local state.
func (w *UserWorkflow) Reset() {
	w.mu.Lock()
	w.users = nil
	w.mu.Unlock()
}

func (w *UserWorkflow) Busy(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy[userID]
}

func (w *UserWorkflow) Approve(ctx context.Context, userID string) error {
	return w.transition(ctx, userID, domain.StatusApproved, w.api.ApproveUser)
}

func (w *UserWorkflow) Reject(ctx context.Context, userID string) error {
	return w.transition(ctx, userID, domain.StatusRejected, w.api.RejectUser)
}

func (w *UserWorkflow) transition(ctx context.Context, userID string, next domain.UserStatus, call func(context.Context, string) error) error {
	if err := w.acquire(userID); err != nil {
		return err
	}
	fallback := RollbackStatus
	action := OptimisticAction[domain.UserStatus]{
		Read:     func() domain.UserStatus { return w.status(userID) },
		Write:    func(s domain.UserStatus) { w.setStatus(userID, s) },
		Next:     next,
		Fallback: &fallback,
		Effect: func(ctx context.Context) error {
			return call(ctx, userID)
		},
		Cleanup: func() { w.release(userID) },
	}
	if err := action.Run(ctx); err != nil {
		w.logger.Warn(ctx, "user status change rolled back", "user_id", userID, "status", next, "error", err)
		return fmt.Errorf("%s user %s: %w", next, userID, err)
	}
	w.logger.Info(ctx, "user status changed", "user_id", userID, "status", next)
	return nil
}

// Delete removes the record only once the backend confirms.
func (w *UserWorkflow) Delete(ctx context.Context, userID string) error {
	if err := w.acquire(userID); err != nil {
		return err
	}
	defer w.release(userID)

	if err := w.api.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	w.mu.Lock()
	w.users = slices.DeleteFunc(w.users, func(u domain.UserRecord) bool { return u.UserID == userID })
	w.mu.Unlock()
	w.logger.Info(ctx, "user deleted", "user_id", userID)
	return nil
}

func (w *UserWorkflow) Create(ctx context.Context, u domain.NewUser) (domain.UserRecord, error) {
	if err := u.Validate(); err != nil {
		return domain.UserRecord{}, err
	}
	if u.Role == "" {
		u.Role = domain.RoleEmployee
	}
	rec, err := w.api.CreateUser(ctx, u)
	if err != nil {
		return domain.UserRecord{}, err
	}
	if rec.Status == "" {
		rec.Status = domain.StatusApproved
	}
	if rec.Username == "" {
		rec.Username = u.Username
	}
	if rec.Email == "" {
		rec.Email = u.Email
	}
	if rec.Role == "" {
		rec.Role = u.Role
	}
	w.mu.Lock()
	w.users = append(w.users, rec)
	w.mu.Unlock()
	w.logger.Info(ctx, "user created", "user_id", rec.UserID, "username", rec.Username)
	return rec, nil
}

func (w *UserWorkflow) acquire(userID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexOf(userID) < 0 {
		return domain.ErrNotFound
	}
	if w.busy[userID] {
		return domain.ErrBusy
	}
	w.busy[userID] = true
	return nil
}

func (w *UserWorkflow) release(userID string) {
	w.mu.Lock()
	delete(w.busy, userID)
	w.mu.Unlock()
}

func (w *UserWorkflow) status(userID string) domain.UserStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.indexOf(userID); i >= 0 {
		return w.users[i].Status
	}
	return ""
}

func (w *UserWorkflow) setStatus(userID string, s domain.UserStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.indexOf(userID); i >= 0 {
		w.users[i].Status = s
	}
}

func (w *UserWorkflow) indexOf(userID string) int {
	return slices.IndexFunc(w.users, func(u domain.UserRecord) bool { return u.UserID == userID })
}
