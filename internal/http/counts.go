package http

import (
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// countsFromStats reduces engine stats to per-scope document counts.
func countsFromStats(st vectorstore.Stats) ScopeCounts {
	return ScopeCounts{
		Global:   st.Scopes[vectorstore.ScopeGlobal.String()].Documents,
		Personal: st.Scopes[vectorstore.ScopePersonal.String()].Documents,
		Legacy:   st.Scopes[vectorstore.ScopeLegacy.String()].Documents,
		Sessions: st.ActiveSessions,
	}
}

// boolOr dereferences an optional request flag.
func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
