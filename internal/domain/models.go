package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleEmployee, RoleCustomer:
		return r, nil
	default:
		return "", ErrInvalidInput
	}
}

type Session struct {
	Token       string         `json:"-"`
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	Role        Role           `json:"role"`
	Permissions *PermissionSet `json:"permissions,omitempty"`
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Profile is the /profile payload. Permissions is only sent for non-admin users.
type Profile struct {
	Username    string         `json:"username"`
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	Permissions map[string]any `json:"permissions,omitempty"`
}

type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
	StatusRejected UserStatus = "rejected"
)

type UserRecord struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Role     Role       `json:"role"`
	Status   UserStatus `json:"status"`
}

type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type Company struct {
	Company string `json:"company"`
}

// DateRange bounds are advisory when IsAllTime is set.
type DateRange struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsAllTime bool      `json:"is_all_time"`
}

const dateLayout = "2006-01-02"

func (r DateRange) Start() string {
	if r.StartDate.IsZero() {
		return ""
	}
	return r.StartDate.Format(dateLayout)
}

func (r DateRange) End() string {
	if r.EndDate.IsZero() {
		return ""
	}
	return r.EndDate.Format(dateLayout)
}

func (r DateRange) Validate() error {
	if r.IsAllTime {
		return nil
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return ErrInvalidInput
	}
	if r.EndDate.Before(r.StartDate) {
		return ErrInvalidInput
	}
	return nil
}

func ParseDateRange(start, end string, allTime bool) (DateRange, error) {
	r := DateRange{IsAllTime: allTime}
	if start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return DateRange{}, ErrInvalidInput
		}
		r.StartDate = t
	}
	if end != "" {
		t, err := time.Parse(dateLayout, end)
		if err != nil {
			return DateRange{}, ErrInvalidInput
		}
		r.EndDate = t
	}
	return r, r.Validate()
}

// AnalyticsQuery is the dependency tuple shared by every analytics view.
type AnalyticsQuery struct {
	Range   DateRange `json:"range"`
	Company string    `json:"company"`
	Domain  string    `json:"domain"`
}

func (q AnalyticsQuery) Params() map[string]string {
	return map[string]string{
		"start_date":  q.Range.Start(),
		"end_date":    q.Range.End(),
		"include_all": strconv.FormatBool(q.Range.IsAllTime),
		"company":     q.Company,
		"domain":      q.Domain,
	}
}

type Endpoint string

const (
	EndpointAnalyticsEmail   Endpoint = "analytics_email"
	EndpointEmailOverview    Endpoint = "email_overview"
	EndpointEmailPerformance Endpoint = "email_performance"
	EndpointTasksKPIs        Endpoint = "tasks_kpis"
	EndpointTasksOverview    Endpoint = "tasks_overview"
	EndpointTasksPerformance Endpoint = "tasks_performance"
	EndpointHistory          Endpoint = "history"
)

var analyticsEndpoints = []Endpoint{
	EndpointAnalyticsEmail,
	EndpointEmailOverview,
	EndpointEmailPerformance,
	EndpointTasksKPIs,
	EndpointTasksOverview,
	EndpointTasksPerformance,
	EndpointHistory,
}

func AnalyticsEndpoints() []Endpoint {
	out := make([]Endpoint, len(analyticsEndpoints))
	copy(out, analyticsEndpoints)
	return out
}

func ParseEndpoint(raw string) (Endpoint, error) {
	e := Endpoint(strings.Trim(strings.ToLower(raw), "/ "))
	for _, known := range analyticsEndpoints {
		if e == known {
			return e, nil
		}
	}
	return "", ErrNotFound
}

// CacheKey is deterministic over (endpoint, company, range bounds, domain filter).
// Parts are query-escaped, so no value can forge a separator.
func CacheKey(endpoint, company string, r DateRange, domainFilter string) string {
	parts := []string{
		endpoint,
		company,
		r.Start(),
		r.End(),
		strconv.FormatBool(r.IsAllTime),
		domainFilter,
	}
	for i, p := range parts {
		parts[i] = url.QueryEscape(p)
	}
	return strings.Join(parts, "|")
}

// ExportMonth validates the YYYY-MM month accepted by the export endpoint.
func ExportMonth(raw string) (string, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidInput
	}
	return t.Format("2006-01"), nil
}
