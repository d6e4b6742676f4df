// Package qdrant wraps the official Qdrant gRPC client with retries and the
// small point/filter model the Qdrant persister needs.
package qdrant

import (
	"context"
)

// Client is the subset of Qdrant the persister uses.
type Client interface {
	// Collection operations
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error

	// Point operations
	Upsert(ctx context.Context, collection string, points []*Point) error
	Scroll(ctx context.Context, collection string, filter *Filter) ([]*Point, error)
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error

	Health(ctx context.Context) error
	Close() error
}

// Point represents a vector point in Qdrant.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Filter is a conjunction of keyword matches. An empty filter matches every
// point.
type Filter struct {
	Must []Condition
}

// Condition matches a payload field against a keyword.
type Condition struct {
	Field string
	Match string
}

// MatchField builds a single-condition filter.
func MatchField(field, value string) *Filter {
	return &Filter{Must: []Condition{{Field: field, Match: value}}}
}
