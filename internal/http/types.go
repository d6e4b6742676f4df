package http

import (
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string      `json:"status"`
	Version  string      `json:"version,omitempty"`
	Degraded bool        `json:"degraded"`
	Model    string      `json:"model,omitempty"`
	Counts   ScopeCounts `json:"counts"`
}

// ScopeCounts is the number of documents per scope.
type ScopeCounts struct {
	Global   int `json:"global"`
	Personal int `json:"personal"`
	Legacy   int `json:"legacy"`
	Sessions int `json:"sessions"`
}

// UploadRequest is the JSON form of POST /v1/documents. Multipart uploads
// carry the same fields as form values plus a "file" part.
type UploadRequest struct {
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	Scope    string   `json:"scope"`
	Tags     []string `json:"tags"`
}

// UploadResponse is returned once an upload is accepted for processing.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// DocumentListResponse is the response body for GET /v1/documents.
type DocumentListResponse struct {
	Documents []vectorstore.DocumentInfo `json:"documents"`
	Total     int                        `json:"total"`
}

// SearchRequest is the body of POST /v1/search. The session comes from the
// bearer token, never from the body. Both scope flags default to true.
type SearchRequest struct {
	Query           string `json:"query"`
	TopK            int    `json:"top_k"`
	IncludeGlobal   *bool  `json:"include_global"`
	IncludePersonal *bool  `json:"include_personal"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message         string `json:"message"`
	TopK            int    `json:"top_k"`
	IncludeGlobal   *bool  `json:"include_global"`
	IncludePersonal *bool  `json:"include_personal"`
}

// ChatResponse is the response body for POST /v1/chat.
type ChatResponse struct {
	Answer           string                     `json:"answer"`
	Sources          []vectorstore.SearchResult `json:"sources"`
	Degraded         bool                       `json:"degraded"`
	Fallback         bool                       `json:"fallback"`
	Model            string                     `json:"model,omitempty"`
	ProcessingTimeMs int64                      `json:"processing_time_ms"`
}

// AdminStatsResponse is the response body for GET /v1/admin/stats.
type AdminStatsResponse struct {
	vectorstore.Stats
	Sessions []vectorstore.SessionInfo `json:"sessions"`
}

// ActivityResponse is the response body for GET /v1/admin/activity.
type ActivityResponse struct {
	Entries []vectorstore.QueryLogEntry `json:"entries"`
	Count   int                         `json:"count"`
}
