package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"admin-dashboard/internal/domain"
)

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{"username": {username}, "password": {password}}
	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", err
	}
	out, err := decode[struct {
		AccessToken string `json:"access_token"`
	}](body)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errNoToken
	}
	return out.AccessToken, nil
}

func (c *Client) Profile(ctx context.Context, token string) (domain.Profile, error) {
	body, err := c.do(ctx, request{method: http.MethodGet, path: "/profile", token: token})
	if err != nil {
		return domain.Profile{}, err
	}
	return decode[domain.Profile](body)
}

func (c *Client) VerifyResetToken(ctx context.Context, token string) error {
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/reset-password/" + url.PathEscape(token),
		route:  "/reset-password/:token",
	})
	return err
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	_, err := c.postJSON(ctx, "/reset-password", "", nil, map[string]string{
		"token":        token,
		"new_password": password,
	})
	return err
}

type userWire struct {
	UserID   any    `json:"user_id"`
	ID       any    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

func (u userWire) record() domain.UserRecord {
	id := idString(u.UserID)
	if id == "" {
		id = idString(u.ID)
	}
	return domain.UserRecord{
		UserID:   id,
		Username: u.Username,
		Email:    u.Email,
		Role:     domain.Role(strings.ToLower(u.Role)),
		Status:   domain.UserStatus(strings.ToLower(u.Status)),
	}
}

func (c *Client) Users(ctx context.Context) ([]domain.UserRecord, error) {
	body, err := c.getJSON(ctx, "/admin/users", "", nil)
	if err != nil {
		return nil, err
	}
	wire, err := decode[[]userWire](body)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserRecord, 0, len(wire))
	for _, u := range wire {
		out = append(out, u.record())
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, u domain.NewUser) (domain.UserRecord, error) {
	body, err := c.postJSON(ctx, "/admin/create_user", "", nil, u)
	if err != nil {
		return domain.UserRecord{}, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return domain.UserRecord{Username: u.Username, Email: u.Email, Role: u.Role}, nil
	}
	wire, err := decode[userWire](body)
	if err != nil {
		return domain.UserRecord{}, err
	}
	return wire.record(), nil
}

func (c *Client) ApproveUser(ctx context.Context, userID string) error {
	_, err := c.getJSON(ctx, "/admin/approve/"+url.PathEscape(userID), "/admin/approve/:id", nil)
	return err
}

func (c *Client) RejectUser(ctx context.Context, userID string) error {
	_, err := c.getJSON(ctx, "/admin/reject/"+url.PathEscape(userID), "/admin/reject/:id", nil)
	return err
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	_, err := c.postJSON(ctx, "/admin/delete_user/"+url.PathEscape(userID), "/admin/delete_user/:id", nil, nil)
	return err
}

func (c *Client) PermissionTable(ctx context.Context) ([]map[string]any, error) {
	body, err := c.getJSON(ctx, "/admin/view-role-permissions", "", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]map[string]any](body)
}

func (c *Client) AssignPermissions(ctx context.Context, userID string, params map[string]string) error {
	q := url.Values{"user_id": {userID}}
	for k, v := range params {
		q.Set(k, v)
	}
	_, err := c.postJSON(ctx, "/assign-permission", "", q, nil)
	return err
}

func (c *Client) Companies(ctx context.Context) ([]domain.Company, error) {
	body, err := c.getJSON(ctx, "/admin/companies", "", nil)
	if err != nil {
		return nil, err
	}
	return decode[[]domain.Company](body)
}

func (c *Client) Analytics(ctx context.Context, endpoint domain.Endpoint, q domain.AnalyticsQuery) (json.RawMessage, error) {
	query := url.Values{}
	for k, v := range q.Params() {
		query.Set(k, v)
	}
	body, err := c.getJSON(ctx, "/"+string(endpoint), "", query)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errInvalidPayload(endpoint)
	}
	return json.RawMessage(body), nil
}

func (c *Client) ExportExcel(ctx context.Context, month string) ([]byte, error) {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/export/excel",
		query:  url.Values{"month": {month}},
		accept: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	})
}

type errInvalidPayload domain.Endpoint

func (e errInvalidPayload) Error() string {
	return "backend returned invalid JSON for " + string(e)
}
