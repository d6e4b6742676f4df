package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

func newTestEcho(t *testing.T) (*echo.Echo, *Authenticator) {
	t.Helper()
	now := testNow
	a := newTestAuthenticator(t, &now)

	e := echo.New()
	e.Use(Middleware(a))
	e.GET("/whoami", func(c echo.Context) error {
		id := FromEcho(c)
		assert.Equal(t, id, FromContext(c.Request().Context()))
		return c.JSON(http.StatusOK, map[string]string{
			"username": id.Username,
			"session":  logging.SessionIDFromContext(c.Request().Context()),
		})
	})
	e.GET("/anon", func(c echo.Context) error {
		return c.String(http.StatusOK, FromEcho(c).Username)
	})
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequireAdmin)
	e.GET("/mine", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, RequireToken)
	return e, a
}

func do(e *echo.Echo, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Anonymous(t *testing.T) {
	e, _ := newTestEcho(t)
	rec := do(e, "/anon", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMiddleware_ValidToken(t *testing.T) {
	e, a := newTestEcho(t)
	token, _, err := a.Issue("alice", RoleUser, "S1")
	require.NoError(t, err)

	rec := do(e, "/whoami", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"username":"alice","session":"S1"}`, rec.Body.String())
}

func TestMiddleware_BadHeader(t *testing.T) {
	e, _ := newTestEcho(t)
	for _, header := range []string{"Basic abc", "Bearer", "Bearer not-a-jwt"} {
		t.Run(header, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(e, "/anon", header).Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	e, a := newTestEcho(t)
	admin, _, err := a.Issue("root", RoleAdmin, "")
	require.NoError(t, err)
	user, _, err := a.Issue("alice", RoleUser, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(e, "/admin", "").Code)
	assert.Equal(t, http.StatusForbidden, do(e, "/admin", "Bearer "+user).Code)
	assert.Equal(t, http.StatusOK, do(e, "/admin", "Bearer "+admin).Code)
}

func TestRequireToken(t *testing.T) {
	e, a := newTestEcho(t)
	user, _, err := a.Issue("alice", RoleUser, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(e, "/mine", "").Code)
	assert.Equal(t, http.StatusOK, do(e, "/mine", "bearer "+user).Code)
}
