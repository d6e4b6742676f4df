// Package auth issues and verifies the HS256 bearer tokens that identify a
// caller's session, name and role.
//
// Tokens are optional: a request without one is anonymous, has no session
// and so only reaches shared scopes.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// DefaultTokenTTL is used when the config leaves token_ttl unset.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrMissingToken is returned when a protected operation has no token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrForbidden is returned when the caller lacks the admin role.
	ErrForbidden = errors.New("admin role required")

	// ErrEmptyUsername is returned when issuing a token without a name.
	ErrEmptyUsername = errors.New("username cannot be empty")
)

// Claims is the token payload.
type Claims struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Anonymous is the identity of a request without a token.
var Anonymous = Identity{}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// IsAnonymous reports whether no token was presented.
func (i Identity) IsAnonymous() bool { return i.Username == "" && i.SessionID == "" }

// Authenticator signs and verifies tokens.
type Authenticator struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	clock     func() time.Time
	ephemeral bool
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(a *Authenticator) { a.clock = clock }
}

// NewAuthenticator creates an Authenticator. Without a configured secret a
// random one is generated; tokens then stop verifying after a restart, see
// Ephemeral.
func NewAuthenticator(cfg config.AuthConfig, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		secret: []byte(cfg.JWTSecret.Value()),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL.Duration(),
		clock:  time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = DefaultTokenTTL
	}
	if len(a.secret) == 0 {
		a.secret = make([]byte, 32)
		if _, err := rand.Read(a.secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
		a.ephemeral = true
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ephemeral reports whether the signing secret was generated at startup.
func (a *Authenticator) Ephemeral() bool { return a.ephemeral }

// Issue signs a token for username. An empty sessionID starts a new session.
func (a *Authenticator) Issue(username, role, sessionID string) (string, Identity, error) {
	if strings.TrimSpace(username) == "" {
		return "", Identity{}, ErrEmptyUsername
	}
	if role == "" {
		role = RoleUser
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := a.clock()
	claims := Claims{
		SessionID: sessionID,
		Username:  username,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", Identity{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, Identity{SessionID: sessionID, Username: username, Role: role}, nil
}

// Verify parses token and returns its identity.
func (a *Authenticator) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Username == "" || claims.SessionID == "" {
		return Identity{}, fmt.Errorf("%w: missing username or session_id claim", ErrInvalidToken)
	}
	return Identity{SessionID: claims.SessionID, Username: claims.Username, Role: claims.Role}, nil
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Anonymous
}
