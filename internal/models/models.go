package models

import "time"

// Language is the detected language of a query.
type Language string

const (
	LangFrench  Language = "fr"
	LangEnglish Language = "en"
	LangArabic  Language = "ar"
)

// Intent is the detected question category.
type Intent string

const (
	IntentSchedule     Intent = "schedule"
	IntentInternship   Intent = "internship"
	IntentConversation Intent = "conversation"
	IntentDocument     Intent = "document"
	IntentUnknown      Intent = "unknown"
)

// Query is one classified user message. Immutable after classification.
type Query struct {
	Raw      string
	Language Language
	Intent   Intent
}

// EvidenceUnit is a scored excerpt of source text used to ground an answer.
type EvidenceUnit struct {
	Source  string  // URL or document id
	Excerpt string
	Score   float64 // 0..1
	Ref     string  // optional page/section reference
}

// ResponderResult is the final outcome of one dispatched query.
type ResponderResult struct {
	Answer     string
	Sources    []string
	Iterations int
	Elapsed    time.Duration
	Degraded   bool
}

// Turn is one (query, result) exchange kept in session memory.
type Turn struct {
	At     time.Time
	Query  Query
	Result ResponderResult
}

// IndexedDocument describes an uploaded file whose chunks live in the
// vector store. Only referenced by filename here.
type IndexedDocument struct {
	Filename  string
	IndexedAt time.Time
	Chunks    int
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
}
