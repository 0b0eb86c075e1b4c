package models

// SourceChunk is one retrieved chunk, returned when a query asks for its
// matches.
type SourceChunk struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
