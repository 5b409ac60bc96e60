package docstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"enigbot/internal/models"
	"enigbot/internal/retrieval"
)

// Indexer is the slice of the vector store the docstore needs.
type Indexer interface {
	Index(ctx context.Context, content string, metadata map[string]string) error
	Search(ctx context.Context, question string) ([]retrieval.Hit, error)
}

// Store tracks uploaded documents and their indexed chunks.
type Store struct {
	mu           sync.RWMutex
	docs         map[string]models.IndexedDocument
	content      map[string][]models.Chunk
	index        Indexer
	chunkSize    int
	chunkOverlap int
}

func New(index Indexer, chunkSize, chunkOverlap int) *Store {
	return &Store{
		docs:         map[string]models.IndexedDocument{},
		content:      map[string][]models.Chunk{},
		index:        index,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Add parses the file, indexes its chunks and registers the document.
// Re-adding a filename replaces its registry entry; the old chunks stay in
// the collection but carry the same filename metadata.
func (s *Store) Add(ctx context.Context, path string) (models.IndexedDocument, error) {
	chunks, err := parseFile(path, s.chunkSize, s.chunkOverlap)
	if err != nil {
		return models.IndexedDocument{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return models.IndexedDocument{}, fmt.Errorf("no readable content in %s", path)
	}

	filename := filepath.Base(path)
	for _, chunk := range chunks {
		metadata := map[string]string{
			"filename": filename,
			"page":     strconv.Itoa(chunk.PageNumber),
			"chunk":    strconv.Itoa(chunk.ChunkID),
		}
		if err := s.index.Index(ctx, chunk.Content, metadata); err != nil {
			return models.IndexedDocument{}, fmt.Errorf("indexing %s: %w", filename, err)
		}
	}

	doc := models.IndexedDocument{Filename: filename, IndexedAt: time.Now(), Chunks: len(chunks)}
	s.mu.Lock()
	s.docs[filename] = doc
	s.content[filename] = chunks
	s.mu.Unlock()

	log.Info().Str("filename", filename).Int("chunks", len(chunks)).Msg("document indexed")
	return doc, nil
}

// Search queries the document collection.
func (s *Store) Search(ctx context.Context, question string) ([]retrieval.Hit, error) {
	return s.index.Search(ctx, question)
}

// Content returns the parsed chunks of a registered document, in document
// order. Nil for unknown filenames.
func (s *Store) Content(filename string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.content[filename]
	if !ok {
		return nil
	}
	chunks := make([]models.Chunk, len(src))
	copy(chunks, src)
	return chunks
}

// List returns the registered documents, most recently indexed first.
func (s *Store) List() []models.IndexedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]models.IndexedDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].IndexedAt.After(docs[j].IndexedAt) })
	return docs
}
