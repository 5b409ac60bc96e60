// Package retrieval adapts the external vector store. Only the call
// contract matters to callers: Search returns hits ordered by descending
// similarity and an empty result means "no relevant source".
package retrieval

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
)

// Hit is one ranked retrieval result.
type Hit struct {
	Source  string  // URL or document id
	Title   string
	Content string
	Score   float64
}

// Store wraps a chromem-go collection together with the embedder used for
// both indexing and querying.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   *embeddings.EmbedderImpl
	topK       int
}

func NewStore(dbPath, collectionName string, inMemory bool, embedder *embeddings.EmbedderImpl, topK int) (*Store, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collectionName, err)
	}

	if topK <= 0 {
		topK = 5
	}
	return &Store{db: db, collection: collection, embedder: embedder, topK: topK}, nil
}

// Search embeds the question and returns the most similar indexed sources,
// ordered by descending score. An empty slice is a valid answer.
func (s *Store) Search(ctx context.Context, question string) ([]Hit, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	k := min(s.topK, count)
	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		source := r.Metadata["url"]
		if source == "" {
			source = r.Metadata["filename"]
		}
		if source == "" {
			source = r.ID
		}
		hits = append(hits, Hit{
			Source:  source,
			Title:   r.Metadata["title"],
			Content: r.Content,
			Score:   float64(r.Similarity),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// Index embeds content and adds it to the collection. Metadata keys "url",
// "filename" and "title" are recognized by Search.
func (s *Store) Index(ctx context.Context, content string, metadata map[string]string) error {
	if content == "" {
		return fmt.Errorf("refusing to index empty content")
	}

	vector, err := s.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}

	id := metadata["id"]
	if id == "" {
		id = uuid.NewString()
	}
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}
	if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding document: %w", err)
	}
	return nil
}
