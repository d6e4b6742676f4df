package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScopeKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ScopeKind
		wantErr bool
	}{
		{"global", ScopeGlobal, false},
		{" Personal ", ScopePersonal, false},
		{"LEGACY", ScopeLegacy, false},
		{"", ScopeAny, true},
		{"shared", ScopeAny, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScopeKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopeConstructors(t *testing.T) {
	assert.True(t, Global().Valid())
	assert.True(t, Legacy().Valid())
	assert.False(t, Scope{}.Valid())

	_, err := Personal("")
	assert.ErrorIs(t, err, ErrMissingSession)

	s, err := Personal(" abc ")
	require.NoError(t, err)
	assert.Equal(t, ScopePersonal, s.Kind())
	assert.Equal(t, "abc", s.SessionID())
	assert.Equal(t, "personal:abc", s.String())

	_, err = ScopeFor(ScopeAny, "")
	assert.ErrorIs(t, err, ErrInvalidScope)

	g, err := ScopeFor(ScopeGlobal, "ignored")
	require.NoError(t, err)
	assert.Empty(t, g.SessionID())
}

func TestScopeDisplayPrefix(t *testing.T) {
	p, _ := Personal("s")
	assert.Equal(t, "[GLOBAL] ", Global().displayPrefix())
	assert.Equal(t, "[PERSONAL] ", p.displayPrefix())
	assert.Equal(t, "", Legacy().displayPrefix())
}

func TestNewPassageID_Distinct(t *testing.T) {
	p1, _ := Personal("a")
	p2, _ := Personal("b")

	ids := map[string]bool{
		newPassageID(Global(), "doc", 0, 1): true,
		newPassageID(Legacy(), "doc", 0, 1): true,
		newPassageID(p1, "doc", 0, 1):       true,
		newPassageID(p2, "doc", 0, 1):       true,
		newPassageID(Global(), "doc", 1, 1): true,
		newPassageID(Global(), "doc", 0, 2): true,
	}
	assert.Len(t, ids, 6)
	assert.Equal(t, newPassageID(Global(), "doc", 0, 1), newPassageID(Global(), "doc", 0, 1))
}
