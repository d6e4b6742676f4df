// Package ingest turns uploaded files into scoped passages.
//
// An upload is validated synchronously, then extracted, chunked and handed
// to the engine on a background goroutine. Each document has a status cell in
// Tasks that moves from processing to ready or error; every transition is
// optionally published to NATS on <prefix>.<scope>.<document_id>.<status>.
//
// A Watcher feeds files dropped into a directory into the Global scope.
package ingest
