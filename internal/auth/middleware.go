package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// identityContextKey holds the Identity in the echo context.
const identityContextKey = "ragd.identity"

// Middleware authenticates the optional bearer token. Requests without an
// Authorization header continue as Anonymous; a header that does not carry
// a valid token is rejected with 401.
func Middleware(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				c.Set(identityContextKey, Anonymous)
				return next(c)
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authorization header must be: Bearer <token>")
			}
			id, err := a.Verify(strings.TrimSpace(token))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token").SetInternal(err)
			}

			c.Set(identityContextKey, id)
			req := c.Request()
			ctx := WithIdentity(req.Context(), id)
			ctx = logging.WithSessionID(ctx, id.SessionID)
			ctx = logging.WithUser(ctx, id.Username)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// FromEcho returns the caller set by Middleware, or Anonymous.
func FromEcho(c echo.Context) Identity {
	if id, ok := c.Get(identityContextKey).(Identity); ok {
		return id
	}
	return Anonymous
}

// RequireAdmin rejects anonymous callers with 401 and non-admins with 403.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := FromEcho(c)
		if id.IsAnonymous() {
			return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingToken.Error())
		}
		if !id.IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, ErrForbidden.Error())
		}
		return next(c)
	}
}

// RequireToken rejects anonymous callers with 401.
func RequireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if FromEcho(c).IsAnonymous() {
			return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingToken.Error())
		}
		return next(c)
	}
}
