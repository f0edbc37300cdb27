package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore implements Store over the embedded chromem-go engine.
// Vectors live in memory with optional gob persistence.
//
// Writes are serialized per store instance; concurrent upserts for
// distinct ids cannot corrupt each other (the concurrency guarantee the
// store contract requires is provided here, not by the engine).
type ChromemStore struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	// writeMu serializes mutations so readers never observe a
	// half-applied upsert or delete.
	writeMu sync.Mutex
}

func NewChromemStore(persistPath string, compress bool) (*ChromemStore, error) {
	db := chromem.NewDB()
	if persistPath != "" {
		if err := os.MkdirAll(persistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := chromemFilePath(persistPath, compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			if err := db.ImportFromFile(dbPath, ""); err != nil {
				slog.Warn("failed to load vector database, starting empty",
					"path", dbPath, "error", err)
			} else {
				slog.Info("loaded vector database", "path", dbPath)
			}
		}
	}

	return &ChromemStore{
		db:          db,
		persistPath: persistPath,
		compress:    compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func chromemFilePath(dir string, compress bool) string {
	path := filepath.Join(dir, "vectors.gob")
	if compress {
		path += ".gz"
	}
	return path
}

func (s *ChromemStore) Name() string { return "chromem" }

// Vectors arrive pre-computed, so the embedding function must never run.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested but vectors are pre-computed")
}

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vec,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert %q: %w", id, err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after upsert", "error", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection string, vec []float32, k int, filter map[string]string) ([]Result, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects k larger than the collection size.
	count := col.Count()
	if count == 0 {
		return []Result{}, nil
	}
	if k > count {
		k = count
	}

	matches, err := col.QueryEmbedding(ctx, vec, k, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			ID:       m.ID,
			Score:    normalizeCosine(float64(m.Similarity)),
			Content:  m.Content,
			Metadata: m.Metadata,
		})
	}
	return results, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection, id string) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete %q: %w", id, err)
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after delete", "error", err)
	}
	return nil
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	delete(s.collections, collection)

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after collection delete", "error", err)
	}
	return nil
}

func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}
	if err := s.db.ExportToFile(chromemFilePath(s.persistPath, s.compress), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist vector database: %w", err)
	}
	return nil
}

// normalizeCosine maps cosine similarity from [-1,1] onto [0,1].
func normalizeCosine(similarity float64) float64 {
	score := (similarity + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var _ Store = (*ChromemStore)(nil)
