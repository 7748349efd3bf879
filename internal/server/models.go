package server

import "github.com/vitalita/healthassist/internal/registry"

// QueryRequest is the chat endpoint payload. SessionID is optional; a new
// session is created when it is absent or expired.
type QueryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse carries the answer, its citations and the session to reuse.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Sources   map[string][]int `json:"sources"`
	SessionID string           `json:"session_id"`
}

// HistoryMessage is one retained conversation turn.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryResponse is the stored conversation for a session.
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	History   []HistoryMessage `json:"history"`
}

// UploadResponse reports a stored document and its indexing result.
type UploadResponse struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks_indexed"`
	Message  string `json:"message"`
}

// RebuildResponse acknowledges a started rebuild job.
type RebuildResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// AddURLRequest registers one URL for ingestion.
type AddURLRequest struct {
	URL string `json:"url"`
}

// BulkURLRequest registers several URLs at once.
type BulkURLRequest struct {
	URLs []string `json:"urls"`
}

// BulkURLResult reports the outcome for one URL of a bulk request.
type BulkURLResult struct {
	URL   string `json:"url"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// URLListResponse lists tracked URL documents.
type URLListResponse struct {
	URLs []registry.URLDocument `json:"urls"`
}
