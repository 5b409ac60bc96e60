// Package responder dispatches classified queries to bounded evidence
// pipelines and assembles the final answer. Each turn walks the states
// CLASSIFIED, EVIDENCE_GATHERING, ANSWER_SYNTHESIS, CLEANED, DELIVERED;
// every failure is recovered into a user-facing explanation.
package responder

import (
	"context"
	"errors"
	"time"

	"enigbot/internal/extract"
	"enigbot/internal/models"
	"enigbot/internal/retrieval"
)

// ErrNoEvidence signals that retrieval produced nothing usable. It is
// reported as "source not found", never papered over with an invented URL.
var ErrNoEvidence = errors.New("no relevant source found")

// ErrSynthesisDegraded signals that the model output stayed below the
// minimum length even after one retry.
var ErrSynthesisDegraded = errors.New("synthesis output degraded")

// Budget bounds one responder's evidence loop. MaxIter counts tool
// invocations (retrieval queries and extractions); Timeout is a soft
// wall-clock bound checked between invocations, not mid-call.
type Budget struct {
	MaxIter int
	Timeout time.Duration
}

var budgets = map[models.Intent]Budget{
	models.IntentConversation: {MaxIter: 3, Timeout: 60 * time.Second},
	models.IntentSchedule:     {MaxIter: 5, Timeout: 120 * time.Second},
	models.IntentDocument:     {MaxIter: 5, Timeout: 120 * time.Second},
	models.IntentInternship:   {MaxIter: 8, Timeout: 300 * time.Second},
}

// budgetFor falls back to the internship budget: unclassified questions
// are routed to the most general responder.
func budgetFor(intent models.Intent) Budget {
	if b, ok := budgets[intent]; ok {
		return b
	}
	return budgets[models.IntentInternship]
}

// Retriever is the vector-store contract: hits ordered by descending
// similarity, an empty result meaning "no relevant source".
type Retriever interface {
	Search(ctx context.Context, question string) ([]retrieval.Hit, error)
}

// Extractor gathers evidence from web pages and schedule PDFs.
type Extractor interface {
	ExtractPage(ctx context.Context, url, keywords string) (string, error)
	ExtractSchedule(ctx context.Context, baseURL string, week *int, audience extract.Audience) (*extract.Schedule, error)
}

// DocumentStore answers queries against uploaded, indexed documents.
type DocumentStore interface {
	Search(ctx context.Context, query string) ([]retrieval.Hit, error)
	Content(filename string) []models.Chunk
	List() []models.IndexedDocument
}
