package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strconv"
	"time"

	"admin-dashboard/internal/adapters/http/middleware"
	"admin-dashboard/internal/application"
	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"github.com/labstack/echo/v4"
)

const (
	ForgotPasswordPath = "/forgot-password"
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func handleError(c echo.Context, err error) error {
	var verr domain.ValidationErrors
	var apiErr *domain.APIError
	switch {
	case errors.As(err, &verr):
		return c.JSON(stdhttp.StatusBadRequest, map[string]any{"error": domain.UserMessage(err), "fields": verr})
	case errors.Is(err, domain.ErrResetTokenInvalid):
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": domain.UserMessage(err), "redirect": ForgotPasswordPath})
	case errors.Is(err, domain.ErrUnauthenticated):
		if ws := middleware.WorkspaceFrom(c); ws != nil {
			ws.Session.Invalidate(c.Request().Context())
		}
		return middleware.Unauthenticated(c)
	case errors.As(err, &apiErr):
		return c.JSON(apiErr.Status, map[string]string{"error": domain.UserMessage(err)})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPermissionDeny):
		return c.JSON(stdhttp.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrBusy):
		return c.JSON(stdhttp.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrTimeout):
		return c.JSON(stdhttp.StatusGatewayTimeout, map[string]string{"error": domain.UserMessage(err)})
	case errors.Is(err, domain.ErrTransport):
		return c.JSON(stdhttp.StatusBadGateway, map[string]string{"error": domain.UserMessage(err)})
	default:
		return c.JSON(stdhttp.StatusInternalServerError, map[string]string{"error": domain.UserMessage(err)})
	}
}

func invalidPayload(c echo.Context) error {
	return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
}

// queryFilters is the filter bar of an analytics view.
type queryFilters struct {
	StartDate  string `json:"start_date" query:"start_date" form:"start_date"`
	EndDate    string `json:"end_date" query:"end_date" form:"end_date"`
	IncludeAll bool   `json:"include_all" query:"include_all" form:"include_all"`
	Company    string `json:"company" query:"company" form:"company"`
	Domain     string `json:"domain" query:"domain" form:"domain"`
}

// analyticsQuery falls back to the selected company when none is given.
func analyticsQuery(c echo.Context, ws *application.Workspace, f queryFilters) (domain.AnalyticsQuery, error) {
	r, err := domain.ParseDateRange(f.StartDate, f.EndDate, f.IncludeAll)
	if err != nil {
		return domain.AnalyticsQuery{}, domain.ValidationErrors{"date_range": "Select a valid start and end date."}
	}
	company := f.Company
	if company == "" {
		company = ws.Session.SelectedCompany(c.Request().Context())
	}
	return domain.AnalyticsQuery{Range: r, Company: company, Domain: f.Domain}, nil
}

type SessionHandler struct {
	logger ports.Logger
}

func NewSessionHandler(logger ports.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

func (h *SessionHandler) Login(c echo.Context) error {
	var req struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	sess, err := middleware.WorkspaceFrom(c).Session.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn(c.Request().Context(), "login failed", "username", req.Username, "error", err)
		if errors.Is(err, domain.ErrUnauthenticated) {
			msg := "Invalid username or password."
			var apiErr *domain.APIError
			if errors.As(err, &apiErr) && apiErr.Detail != "" {
				msg = apiErr.Detail
			}
			return c.JSON(stdhttp.StatusUnauthorized, map[string]string{"error": msg})
		}
		return handleError(c, err)
	}
	h.logger.Info(c.Request().Context(), "login succeeded", "username", sess.Username, "role", sess.Role)
	return c.JSON(stdhttp.StatusOK, sess)
}

func (h *SessionHandler) Logout(c echo.Context) error {
	middleware.WorkspaceFrom(c).Session.Logout(c.Request().Context())
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *SessionHandler) Profile(c echo.Context) error {
	ws := middleware.WorkspaceFrom(c)
	return c.JSON(stdhttp.StatusOK, map[string]any{
		"session":          middleware.SessionFrom(c),
		"selected_company": ws.Session.SelectedCompany(c.Request().Context()),
	})
}

func (h *SessionHandler) SelectCompany(c echo.Context) error {
	var req struct {
		Company string `json:"company" form:"company"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	if err := middleware.WorkspaceFrom(c).Session.SelectCompany(c.Request().Context(), req.Company); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *SessionHandler) VerifyResetToken(c echo.Context) error {
	if err := middleware.WorkspaceFrom(c).Session.VerifyResetToken(c.Request().Context(), c.Param("token")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *SessionHandler) ResetPassword(c echo.Context) error {
	var req struct {
		Token       string `json:"token" form:"token"`
		NewPassword string `json:"new_password" form:"new_password"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	if err := middleware.WorkspaceFrom(c).Session.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, map[string]string{"redirect": middleware.LoginPath})
}

type AnalyticsHandler struct{}

func NewAnalyticsHandler() *AnalyticsHandler { return &AnalyticsHandler{} }

func (h *AnalyticsHandler) Companies(c echo.Context) error {
	companies, err := middleware.WorkspaceFrom(c).Analytics.Companies(c.Request().Context(), middleware.SessionFrom(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, companies)
}

func (h *AnalyticsHandler) Panel(c echo.Context) error {
	endpoint, err := domain.ParseEndpoint(c.Param("endpoint"))
	if err != nil {
		return handleError(c, err)
	}
	var f queryFilters
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &f); err != nil {
		return invalidPayload(c)
	}
	ws := middleware.WorkspaceFrom(c)
	q, err := analyticsQuery(c, ws, f)
	if err != nil {
		return handleError(c, err)
	}
	raw, err := ws.Analytics.Panel(c.Request().Context(), middleware.SessionFrom(c), endpoint, q)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSONBlob(stdhttp.StatusOK, raw)
}

func (h *AnalyticsHandler) Overview(c echo.Context) error {
	var f queryFilters
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &f); err != nil {
		return invalidPayload(c)
	}
	ws := middleware.WorkspaceFrom(c)
	q, err := analyticsQuery(c, ws, f)
	if err != nil {
		return handleError(c, err)
	}
	res, err := ws.Analytics.Overview(c.Request().Context(), middleware.SessionFrom(c), q)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, res)
}

func (h *AnalyticsHandler) Export(c echo.Context) error {
	var req struct {
		Month string `json:"month" query:"month" form:"month"`
	}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	if req.Month == "" {
		req.Month = c.QueryParam("month")
	}
	data, err := middleware.WorkspaceFrom(c).Analytics.Export(c.Request().Context(), middleware.SessionFrom(c), req.Month)
	if err != nil {
		return handleError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="analytics_%s.xlsx"`, req.Month))
	return c.Blob(stdhttp.StatusOK, xlsxContentType, data)
}

// viewState is the wire form of a view snapshot.
type viewState struct {
	View       string                  `json:"view"`
	State      application.FetchState  `json:"state"`
	Generation uint64                  `json:"generation"`
	Query      domain.AnalyticsQuery   `json:"query"`
	Data       application.PanelResult `json:"data"`
	Error      string                  `json:"error,omitempty"`
	UpdatedAt  string                  `json:"updated_at,omitempty"`
}

func newViewState(name string, v *application.DashboardView) viewState {
	snap := v.Snapshot()
	out := viewState{
		View:       name,
		State:      snap.State,
		Generation: snap.Generation,
		Query:      snap.Deps,
		Data:       snap.Data,
		Error:      domain.UserMessage(snap.Err),
	}
	if !snap.UpdatedAt.IsZero() {
		out.UpdatedAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

type ViewsHandler struct{}

func NewViewsHandler() *ViewsHandler { return &ViewsHandler{} }

func (h *ViewsHandler) view(c echo.Context) (*application.DashboardView, error) {
	return middleware.WorkspaceFrom(c).View(c.Param("view"))
}

// SetFilters mounts the view if needed and starts a fetch for the new filters.
func (h *ViewsHandler) SetFilters(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return handleError(c, err)
	}
	var f queryFilters
	if err := c.Bind(&f); err != nil {
		return invalidPayload(c)
	}
	q, err := analyticsQuery(c, middleware.WorkspaceFrom(c), f)
	if err != nil {
		return handleError(c, err)
	}
	gen := v.OnDependenciesChange(q)
	return c.JSON(stdhttp.StatusAccepted, map[string]any{"view": c.Param("view"), "generation": gen})
}

// Get returns the view snapshot; wait=true blocks until in-flight requests settle.
func (h *ViewsHandler) Get(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return handleError(c, err)
	}
	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		v.Wait()
	}
	return c.JSON(stdhttp.StatusOK, newViewState(c.Param("view"), v))
}

func (h *ViewsHandler) Cancel(c echo.Context) error {
	v, err := h.view(c)
	if err != nil {
		return handleError(c, err)
	}
	v.Cancel()
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *ViewsHandler) Close(c echo.Context) error {
	if err := middleware.WorkspaceFrom(c).CloseView(c.Param("view")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *ViewsHandler) List(c echo.Context) error {
	return c.JSON(stdhttp.StatusOK, application.ViewNames())
}

type AdminHandler struct {
	logger ports.Logger
}

func NewAdminHandler(logger ports.Logger) *AdminHandler {
	return &AdminHandler{logger: logger}
}

func (h *AdminHandler) Users(c echo.Context) error {
	users, err := middleware.WorkspaceFrom(c).Users.Load(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, users)
}

func (h *AdminHandler) CreateUser(c echo.Context) error {
	var req domain.NewUser
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	rec, err := middleware.WorkspaceFrom(c).Users.Create(c.Request().Context(), req)
	if err != nil {
		return handleError(c, err)
	}
	h.logger.Info(c.Request().Context(), "user created", "user_id", rec.UserID, "role", rec.Role)
	return c.JSON(stdhttp.StatusCreated, rec)
}

func (h *AdminHandler) Approve(c echo.Context) error {
	return h.transition(c, (*application.UserWorkflow).Approve)
}

func (h *AdminHandler) Reject(c echo.Context) error {
	return h.transition(c, (*application.UserWorkflow).Reject)
}

func (h *AdminHandler) transition(c echo.Context, action func(*application.UserWorkflow, context.Context, string) error) error {
	users := middleware.WorkspaceFrom(c).Users
	id := c.Param("id")
	if err := action(users, c.Request().Context(), id); err != nil {
		return handleError(c, err)
	}
	for _, u := range users.Users() {
		if u.UserID == id {
			return c.JSON(stdhttp.StatusOK, u)
		}
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *AdminHandler) DeleteUser(c echo.Context) error {
	ws := middleware.WorkspaceFrom(c)
	if err := ws.Users.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	ws.DiscardEditor(c.Param("id"))
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *AdminHandler) editor(c echo.Context) *application.PermissionEditor {
	return middleware.WorkspaceFrom(c).Editor(c.Request().Context(), c.Param("id"))
}

// Permissions loads the edit state of a user; reload=true discards unsaved edits.
func (h *AdminHandler) Permissions(c echo.Context) error {
	if reload, _ := strconv.ParseBool(c.QueryParam("reload")); reload {
		middleware.WorkspaceFrom(c).DiscardEditor(c.Param("id"))
	}
	return c.JSON(stdhttp.StatusOK, h.editor(c).State())
}

func (h *AdminHandler) SavePermissions(c echo.Context) error {
	editor := h.editor(c)
	if c.Request().ContentLength != 0 {
		var set domain.PermissionSet
		if err := c.Bind(&set); err != nil {
			return invalidPayload(c)
		}
		editor.Replace(set)
	}
	if err := editor.Save(c.Request().Context()); err != nil {
		h.logger.Warn(c.Request().Context(), "permission save failed", "user_id", c.Param("id"), "error", err)
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, editor.State())
}

func (h *AdminHandler) ToggleGroup(c echo.Context) error {
	editor := h.editor(c)
	if err := editor.ToggleGroup(domain.PermissionGroup(c.Param("group"))); err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, editor.State())
}

func (h *AdminHandler) ToggleDomain(c echo.Context) error {
	var req struct {
		Domain string `json:"domain" form:"domain"`
	}
	if err := c.Bind(&req); err != nil || req.Domain == "" {
		return invalidPayload(c)
	}
	editor := h.editor(c)
	editor.ToggleDomain(req.Domain)
	return c.JSON(stdhttp.StatusOK, editor.State())
}
