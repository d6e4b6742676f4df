// Package embeddings turns text into vectors for the retrieval engine.
//
// Providers: TEI (text-embeddings-inference over HTTP), any OpenAI-compatible
// endpoint through langchaingo, and FastEmbed (local ONNX, cgo builds only).
// When no provider can be reached, Unavailable keeps the server running in a
// degraded mode where ingestion skips passages and searches return no results.
package embeddings
