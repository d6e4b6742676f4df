package vectorstore

import (
	"fmt"
	"strings"
)

// ScopeKind discriminates the three storage scopes. The zero value matches
// any scope where a filter is accepted.
type ScopeKind int

const (
	ScopeAny ScopeKind = iota
	ScopeGlobal
	ScopePersonal
	ScopeLegacy
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopePersonal:
		return "personal"
	case ScopeLegacy:
		return "legacy"
	default:
		return "any"
	}
}

// ParseScopeKind parses "global", "personal" or "legacy".
func ParseScopeKind(s string) (ScopeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global":
		return ScopeGlobal, nil
	case "personal":
		return ScopePersonal, nil
	case "legacy":
		return ScopeLegacy, nil
	default:
		return ScopeAny, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Scope identifies one partition: Global, Legacy, or the Personal partition
// of a single session. Fields are unexported so a Personal scope can only be
// built through Personal, which requires a session id.
type Scope struct {
	kind      ScopeKind
	sessionID string
}

// Global returns the shared scope.
func Global() Scope { return Scope{kind: ScopeGlobal} }

// Legacy returns the flat pre-scope collection.
func Legacy() Scope { return Scope{kind: ScopeLegacy} }

// Personal returns the scope of one session.
func Personal(sessionID string) (Scope, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Scope{}, ErrMissingSession
	}
	return Scope{kind: ScopePersonal, sessionID: sessionID}, nil
}

// ScopeFor builds a scope from its kind and, for Personal, a session id.
func ScopeFor(kind ScopeKind, sessionID string) (Scope, error) {
	switch kind {
	case ScopeGlobal:
		return Global(), nil
	case ScopeLegacy:
		return Legacy(), nil
	case ScopePersonal:
		return Personal(sessionID)
	default:
		return Scope{}, fmt.Errorf("%w: %s", ErrInvalidScope, kind)
	}
}

func (s Scope) Kind() ScopeKind   { return s.kind }
func (s Scope) SessionID() string { return s.sessionID }

// Valid reports whether s was built by one of the constructors.
func (s Scope) Valid() bool {
	switch s.kind {
	case ScopeGlobal, ScopeLegacy:
		return true
	case ScopePersonal:
		return s.sessionID != ""
	default:
		return false
	}
}

func (s Scope) String() string {
	if s.kind == ScopePersonal {
		return "personal:" + s.sessionID
	}
	return s.kind.String()
}

// discriminator feeds passage id derivation so identical documents in
// different partitions never share ids.
func (s Scope) discriminator() string {
	return s.String()
}

// displayPrefix is prepended to result display names.
func (s Scope) displayPrefix() string {
	switch s.kind {
	case ScopeGlobal:
		return "[GLOBAL] "
	case ScopePersonal:
		return "[PERSONAL] "
	default:
		return ""
	}
}
