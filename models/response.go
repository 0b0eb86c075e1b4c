package models

// EmbedDirectoryResponse covers the three ingestion outcomes. Pointers
// keep a zero count in the output while dropping fields an outcome does
// not use.
type EmbedDirectoryResponse struct {
	Message         string   `json:"message"`
	ProcessedFiles  *int     `json:"processed_files,omitempty"`
	FailedFiles     []string `json:"failed_files,omitempty"`
	SuccessfulFiles *int     `json:"successful_files,omitempty"`
}

// QueryRAGResponse is the body of a successful POST /query.
type QueryRAGResponse struct {
	Answer          string        `json:"answer"`
	SourceDocuments string        `json:"source_documents"`
	Matches         []SourceChunk `json:"matches,omitempty"`
}

// ErrorResponse is the body of every 4xx and 5xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
