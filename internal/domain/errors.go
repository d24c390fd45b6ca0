package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPermissionDeny    = errors.New("permission denied")
	ErrUnauthenticated   = errors.New("session is not authenticated")
	ErrTransport         = errors.New("backend unreachable")
	ErrTimeout           = errors.New("request timed out")
	ErrBusy              = errors.New("another action is in progress for this user")
	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")
)

// APIError is a non-2xx response from the analytics backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend responded %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend responded %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrPermissionDeny:
		return e.Status == http.StatusForbidden
	}
	return false
}

// ValidationErrors is keyed by form field.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Is(target error) bool { return target == ErrInvalidInput }

const (
	msgConnectivity = "Unable to reach the server. Please check your connection and try again."
	msgSession      = "Your session has expired. Please log in again."
	msgTimeout      = "The request took too long. Please try again."
	msgGeneric      = "Something went wrong. Please try again."
)

// UserMessage converts err into the notification shown to the dashboard user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized {
			return msgSession
		}
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		return msgGeneric
	}
	var verr ValidationErrors
	if errors.As(err, &verr) {
		return verr.Error()
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return msgSession
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, ErrTransport):
		return msgConnectivity
	case errors.Is(err, ErrBusy), errors.Is(err, ErrResetTokenInvalid), errors.Is(err, ErrPermissionDeny):
		return err.Error()
	}
	return msgGeneric
}
