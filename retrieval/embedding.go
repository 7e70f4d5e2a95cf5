package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
)

// DefaultCacheSize is the number of embeddings kept by CachedEmbedding.
const DefaultCacheSize = 10000

// CachedEmbedding wraps fn with an LRU cache keyed by the input text.
func CachedEmbedding(fn chromem.EmbeddingFunc, size int) (chromem.EmbeddingFunc, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		if cached, ok := cache.Get(text); ok {
			return cached, nil
		}
		vec, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		cache.Add(text, vec)
		return vec, nil
	}, nil
}

// HashingEmbedding returns a deterministic local embedding: lower-cased
// word tokens are hashed into dims buckets and the vector is L2-normalized.
// It needs no model and keeps related texts that share words close, which is
// enough for offline use and tests.
func HashingEmbedding(dims int) chromem.EmbeddingFunc {
	if dims <= 0 {
		dims = 256
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%dims] += sign
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			// chromem cannot normalize a zero vector
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

// OllamaEmbedding returns chromem's Ollama embedding function. An empty
// baseURL uses the local default.
func OllamaEmbedding(model, baseURL string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOllama(model, baseURL)
}
