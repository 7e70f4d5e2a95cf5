package core

import "context"

// Document is a retrieved knowledge snippet with a relevance score and
// arbitrary metadata.
type Document struct {
	ID         string
	Content    string
	Similarity float32
	Metadata   map[string]string
}

// Retriever looks up documents relevant to a query. Ingestion and chunking
// live outside the core; agents only query.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]Document, error)
}
