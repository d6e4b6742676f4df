// Package vectorstore implements the multi-tenant passage store and the
// retrieval engine built on it.
//
// Passages live in one of three scopes:
//
//   - Global: shared by every caller.
//   - Personal: private to one session, evicted 24h after the session's last
//     write. Expiry is checked lazily by the next operation that touches the
//     session.
//   - Legacy: the flat collection used before scopes existed.
//
// Search is exact: every eligible candidate is scored by cosine similarity
// against the query vector and the top K are returned. Candidates are
// snapshotted under the store lock and scored outside it.
//
// The Engine is the entry point. It embeds text through an Embedder, applies
// the scope selection policy, attaches provenance to results, keeps a query
// log, and writes through to an optional Persister after every mutation.
package vectorstore
