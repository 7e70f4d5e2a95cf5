// Package retrieval provides the knowledge retriever used by the archivist
// agent: an embedded chromem-go vector collection queried by text.
package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hupe1980/agentswarm/core"
	"github.com/hupe1980/agentswarm/logging"
)

// Options configures a Store.
type Options struct {
	// PersistPath is a directory for the gob-encoded database. Empty keeps
	// everything in memory.
	PersistPath string
	Compress    bool
	Collection  string
	// Embedding defaults to HashingEmbedding(256).
	Embedding chromem.EmbeddingFunc
	// CacheSize bounds the embedding cache.
	CacheSize int
	// MinSimilarity drops weaker matches.
	MinSimilarity float32
	Logger        logging.Logger
}

// Store is a chromem-go backed core.Retriever.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	opts       Options
	logger     logging.Logger
}

var _ core.Retriever = (*Store)(nil)

// New opens or creates the collection.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Collection: "knowledge",
		CacheSize:  DefaultCacheSize,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Embedding == nil {
		opts.Embedding = HashingEmbedding(256)
	}
	embed, err := CachedEmbedding(opts.Embedding, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	var db *chromem.DB
	if opts.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(opts.PersistPath, "chromem"), opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Store{
		db:         db,
		collection: collection,
		opts:       opts,
		logger:     logging.OrNoOp(opts.Logger),
	}, nil
}

// Add embeds and stores docs. Existing ids are overwritten.
func (s *Store) Add(ctx context.Context, docs ...core.Document) error {
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Delete removes documents by id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Query returns up to k documents most similar to text, best first.
func (s *Store) Query(ctx context.Context, text string, k int) ([]core.Document, error) {
	if strings.TrimSpace(text) == "" || k <= 0 {
		return nil, nil
	}
	// chromem rejects a result count larger than the collection
	k = min(k, s.collection.Count())
	if k == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	docs := make([]core.Document, 0, len(results))
	for _, r := range results {
		if s.opts.MinSimilarity > 0 && r.Similarity < s.opts.MinSimilarity {
			continue
		}
		docs = append(docs, core.Document{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	s.logger.Debug("Retrieval query", "k", k, "hits", len(docs))
	return docs, nil
}
