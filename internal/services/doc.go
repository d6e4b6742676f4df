// Package services builds the ragd object graph from configuration.
//
// Build opens the embedding provider, the durable store, the engine, the
// ingestion pipeline, answer synthesis and the token authenticator, in that
// order. Both binaries share it, so the daemon and the admin CLI always see
// the same store the same way. Close releases everything in reverse order.
package services
