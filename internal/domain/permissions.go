package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type CapabilityKey string

const (
	CapCallOverview    CapabilityKey = "call_overview"
	CapCallPerformance CapabilityKey = "call_performance"
	CapCallHistory     CapabilityKey = "call_history"

	CapEmailAnalytics   CapabilityKey = "email_analytics"
	CapEmailOverview    CapabilityKey = "email_overview"
	CapEmailPerformance CapabilityKey = "email_performance"

	CapTaskKPIs        CapabilityKey = "task_kpis"
	CapTaskOverview    CapabilityKey = "task_overview"
	CapTaskPerformance CapabilityKey = "task_performance"

	CapAnalyticsDashboard CapabilityKey = "analytics_dashboard"
	CapAnalyticsCompanies CapabilityKey = "analytics_companies"
	CapAnalyticsExport    CapabilityKey = "analytics_export"
)

type PermissionGroup string

const (
	GroupCall      PermissionGroup = "call"
	GroupEmail     PermissionGroup = "email"
	GroupTask      PermissionGroup = "task"
	GroupAnalytics PermissionGroup = "analytics"
)

var permissionGroups = []struct {
	Group   PermissionGroup
	Members []CapabilityKey
}{
	{GroupCall, []CapabilityKey{CapCallOverview, CapCallPerformance, CapCallHistory}},
	{GroupEmail, []CapabilityKey{CapEmailAnalytics, CapEmailOverview, CapEmailPerformance}},
	{GroupTask, []CapabilityKey{CapTaskKPIs, CapTaskOverview, CapTaskPerformance}},
	{GroupAnalytics, []CapabilityKey{CapAnalyticsDashboard, CapAnalyticsCompanies, CapAnalyticsExport}},
}

var knownCapabilities = buildCapabilitySet()

func buildCapabilitySet() map[CapabilityKey]PermissionGroup {
	out := map[CapabilityKey]PermissionGroup{}
	for _, g := range permissionGroups {
		for _, k := range g.Members {
			out[k] = g.Group
		}
	}
	return out
}

func AllCapabilities() []CapabilityKey {
	out := make([]CapabilityKey, 0, len(knownCapabilities))
	for _, g := range permissionGroups {
		out = append(out, g.Members...)
	}
	return out
}

func IsKnownCapability(k CapabilityKey) bool {
	_, ok := knownCapabilities[k]
	return ok
}

func PermissionGroups() []PermissionGroup {
	out := make([]PermissionGroup, 0, len(permissionGroups))
	for _, g := range permissionGroups {
		out = append(out, g.Group)
	}
	return out
}

func GroupMembers(g PermissionGroup) ([]CapabilityKey, error) {
	for _, entry := range permissionGroups {
		if entry.Group == g {
			out := make([]CapabilityKey, len(entry.Members))
			copy(out, entry.Members)
			return out, nil
		}
	}
	return nil, ErrNotFound
}

var endpointCapabilities = map[Endpoint]CapabilityKey{
	EndpointAnalyticsEmail:   CapEmailAnalytics,
	EndpointEmailOverview:    CapEmailOverview,
	EndpointEmailPerformance: CapEmailPerformance,
	EndpointTasksKPIs:        CapTaskKPIs,
	EndpointTasksOverview:    CapTaskOverview,
	EndpointTasksPerformance: CapTaskPerformance,
	EndpointHistory:          CapCallHistory,
}

// CapabilityFor returns the flag that gates an analytics endpoint.
func CapabilityFor(e Endpoint) (CapabilityKey, bool) {
	k, ok := endpointCapabilities[e]
	return k, ok
}

// domainKeys maps lower-cased company display names to the keys the backend expects.
var domainKeys = map[string]string{
	"urlaubsgurukf":  "gurukf",
	"urlaubsguru":    "guru",
	"urlaubsguru at": "guruat",
	"bild reisen":    "bild",
	"5vorflug":       "5vorflug",
	"holidayguru":    "hguru",
	"invia flights":  "invia",
}

// DomainKey resolves a company display name; unmapped names pass through lower-cased.
func DomainKey(displayName string) string {
	name := strings.ToLower(strings.TrimSpace(displayName))
	if key, ok := domainKeys[name]; ok {
		return key
	}
	return name
}

type DateFilterTag string

const (
	DateToday      DateFilterTag = "today"
	DateYesterday  DateFilterTag = "yesterday"
	DateLast7Days  DateFilterTag = "last_7_days"
	DateLast30Days DateFilterTag = "last_30_days"
	DateThisMonth  DateFilterTag = "this_month"
	DateLastMonth  DateFilterTag = "last_month"
	DateAllTime    DateFilterTag = "all_time"
	DateCustom     DateFilterTag = "custom"
)

var dateFilterTags = map[DateFilterTag]struct{}{
	DateToday: {}, DateYesterday: {}, DateLast7Days: {}, DateLast30Days: {},
	DateThisMonth: {}, DateLastMonth: {}, DateAllTime: {}, DateCustom: {},
}

type ScalarFilters struct {
	DateFilter string `json:"date_filter"`
	Domains    string `json:"domains"`
}

// PermissionSet is the capability set of one user.
type PermissionSet struct {
	ScalarFilters
	Capabilities map[CapabilityKey]bool
}

func DefaultPermissionSet() PermissionSet {
	caps := make(map[CapabilityKey]bool, len(knownCapabilities))
	for k := range knownCapabilities {
		caps[k] = false
	}
	return PermissionSet{Capabilities: caps}
}

func (p PermissionSet) Clone() PermissionSet {
	out := DefaultPermissionSet()
	out.ScalarFilters = p.ScalarFilters
	for k, v := range p.Capabilities {
		if IsKnownCapability(k) {
			out.Capabilities[k] = v
		}
	}
	return out
}

func (p PermissionSet) Has(k CapabilityKey) bool { return p.Capabilities[k] }

func (p *PermissionSet) Set(k CapabilityKey, v bool) error {
	if !IsKnownCapability(k) {
		return ErrInvalidInput
	}
	if p.Capabilities == nil {
		p.Capabilities = DefaultPermissionSet().Capabilities
	}
	p.Capabilities[k] = v
	return nil
}

// GroupValue is the AND of every member of g.
func (p PermissionSet) GroupValue(g PermissionGroup) (bool, error) {
	members, err := GroupMembers(g)
	if err != nil {
		return false, err
	}
	for _, k := range members {
		if !p.Capabilities[k] {
			return false, nil
		}
	}
	return true, nil
}

// ToggleGroup sets every member of g to the opposite of GroupValue(g).
func (p *PermissionSet) ToggleGroup(g PermissionGroup) error {
	all, err := p.GroupValue(g)
	if err != nil {
		return err
	}
	members, _ := GroupMembers(g)
	for _, k := range members {
		_ = p.Set(k, !all)
	}
	return nil
}

func splitCSV(raw string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func (p PermissionSet) DomainKeys() []string { return splitCSV(p.Domains) }

func (p PermissionSet) AllowsDomain(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, d := range p.DomainKeys() {
		if d == key {
			return true
		}
	}
	return false
}

// ToggleDomain adds or removes the key for displayName, keeping order and dropping duplicates.
func (p *PermissionSet) ToggleDomain(displayName string) string {
	key := DomainKey(displayName)
	if key == "" {
		return p.Domains
	}
	current := p.DomainKeys()
	next := make([]string, 0, len(current)+1)
	removed := false
	for _, d := range current {
		if d == key {
			removed = true
			continue
		}
		next = append(next, d)
	}
	if !removed {
		next = append(next, key)
	}
	p.Domains = strings.Join(next, ",")
	return p.Domains
}

func (p PermissionSet) DateFilters() []DateFilterTag {
	var out []DateFilterTag
	for _, tag := range splitCSV(p.DateFilter) {
		if _, ok := dateFilterTags[DateFilterTag(tag)]; ok {
			out = append(out, DateFilterTag(tag))
		}
	}
	return out
}

// DateWindow is the inclusive span of days a date_filter tag grants, relative to now.
// custom and all_time are unbounded and report ok=false.
func (t DateFilterTag) DateWindow(now time.Time) (from, to time.Time, ok bool) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch t {
	case DateToday:
		return today, today, true
	case DateYesterday:
		day := today.AddDate(0, 0, -1)
		return day, day, true
	case DateLast7Days:
		return today.AddDate(0, 0, -6), today, true
	case DateLast30Days:
		return today.AddDate(0, 0, -29), today, true
	case DateThisMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), today, true
	case DateLastMonth:
		first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1), true
	}
	return time.Time{}, time.Time{}, false
}

// AllowsRange reports whether r may be requested at now. An empty date_filter
// leaves ranges unrestricted; all_time grants everything and custom any bounded
// range. Every other tag grants only ranges inside its window.
func (p PermissionSet) AllowsRange(r DateRange, now time.Time) bool {
	if len(splitCSV(p.DateFilter)) == 0 {
		return true
	}
	for _, t := range p.DateFilters() {
		switch t {
		case DateAllTime:
			return true
		case DateCustom:
			if !r.IsAllTime {
				return true
			}
			continue
		}
		if r.IsAllTime {
			continue
		}
		from, to, ok := t.DateWindow(now)
		if !ok || r.StartDate.IsZero() || r.EndDate.IsZero() {
			continue
		}
		if !dayOf(r.StartDate).Before(from) && !dayOf(r.EndDate).After(to) {
			return true
		}
	}
	return false
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RestrictsDomains reports whether the set limits requests to its domains list.
func (p PermissionSet) RestrictsDomains() bool { return len(p.DomainKeys()) > 0 }

// Encode flattens the set into the query parameters of the assign call.
func (p PermissionSet) Encode() map[string]string {
	out := map[string]string{
		"date_filter": p.DateFilter,
		"domains":     p.Domains,
	}
	for _, k := range AllCapabilities() {
		out[string(k)] = strconv.FormatBool(p.Capabilities[k])
	}
	return out
}

// PermissionSetFromRecord merges a raw backend record into the defaults.
func PermissionSetFromRecord(rec map[string]any) PermissionSet {
	out := DefaultPermissionSet()
	if v, ok := rec["date_filter"].(string); ok {
		out.DateFilter = v
	}
	if v, ok := rec["domains"].(string); ok {
		out.Domains = v
	}
	for _, k := range AllCapabilities() {
		out.Capabilities[k] = truthy(rec[string(k)])
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	}
	return false
}

func (p PermissionSet) MarshalJSON() ([]byte, error) {
	flat := map[string]any{
		"date_filter": p.DateFilter,
		"domains":     p.Domains,
	}
	for _, k := range AllCapabilities() {
		flat[string(k)] = p.Capabilities[k]
	}
	return json.Marshal(flat)
}

func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*p = PermissionSetFromRecord(rec)
	return nil
}
