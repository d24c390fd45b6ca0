package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		if c.FormValue("password") != "secret" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		}
		return c.JSON(http.StatusOK, map[string]string{"access_token": "opaque", "token_type": "bearer"})
	})
	e.GET("/profile", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"username": "ops", "email": "ops@example.com", "role": "admin"})
	})
	e.GET("/admin/companies", func(c echo.Context) error {
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer opaque" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		}
		return c.JSON(http.StatusOK, []map[string]string{{"company": "5vorflug"}, {"company": "Bild Reisen"}})
	})
	e.POST("/export/excel", func(c echo.Context) error {
		f := excelize.NewFile()
		defer f.Close()
		require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"date", "calls"}))
		require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"2024-07-01", 12}))
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)
		return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	args []string
}

func newHarness(t *testing.T) *harness {
	srv := fakeBackend(t)
	dir := t.TempDir()
	return &harness{args: []string{
		"-config", filepath.Join(dir, "none.yaml"),
		"-backend", srv.URL,
		"-store", filepath.Join(dir, "session.json"),
	}}
}

func (h *harness) run(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append(append([]string{}, h.args...), args...), &stdout, &stderr)
	return stdout.String(), err
}

func TestLoginPersistsSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("login", "-u", "ops", "-p", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Incorrect username or password", err.Error())

	_, err = h.run("whoami")
	require.Error(t, err)

	_, err = h.run("login", "-u", "ops", "-p", "secret")
	require.NoError(t, err)

	out, err := h.run("whoami")
	require.NoError(t, err)
	var who struct {
		Session struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &who))
	assert.Equal(t, "ops", who.Session.Username)
	assert.Equal(t, "admin", who.Session.Role)

	out, err = h.run("companies")
	require.NoError(t, err)
	assert.Contains(t, out, "Bild Reisen")

	_, err = h.run("logout")
	require.NoError(t, err)
	_, err = h.run("companies")
	assert.Error(t, err)
}

func TestExportWritesFileAndSummary(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("login", "-u", "ops", "-p", "secret")
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "july.xlsx")
	out, err := h.run("export", "-month", "2024-07", "-o", target)
	require.NoError(t, err)

	var res struct {
		File   string `json:"file"`
		Sheets []struct {
			Name   string   `json:"name"`
			Rows   int      `json:"rows"`
			Header []string `json:"header"`
		} `json:"sheets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, target, res.File)
	require.Len(t, res.Sheets, 1)
	assert.Equal(t, 1, res.Sheets[0].Rows)
	assert.Equal(t, []string{"date", "calls"}, res.Sheets[0].Header)
	assert.FileExists(t, target)
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run()
	assert.Error(t, err)
	_, err = h.run("frobnicate")
	assert.Error(t, err)
	_, err = h.run("panel", "-endpoint", "billing", "-all")
	assert.ErrorContains(t, err, "unknown endpoint")
	_, err = h.run("view")
	assert.ErrorContains(t, err, "history")
}
