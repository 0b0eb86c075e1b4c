package models

// EmbedDirectoryRequest is the body of POST /embed_directory.
type EmbedDirectoryRequest struct {
	Directory string `json:"directory"`
}

// QueryTextRequest is the body of POST /query.
type QueryTextRequest struct {
	Query          string `json:"query"`
	IncludeMatches bool   `json:"include_matches,omitempty"`
}
