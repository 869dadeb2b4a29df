package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/store"
	"github.com/12313awe/skalgpt/internal/utils"
)

// DefaultPassageCount is how many passages a turn grounds on.
const DefaultPassageCount = 4

// Passage is one retrieved reference text with an opaque source tag.
type Passage struct {
	Text   string
	Source string
}

// Retriever finds the passages most relevant to a query. Zero matches is
// a normal outcome (empty slice, nil error); an error means the index
// itself could not be queried.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Embedder turns text into a vector. Implemented by LLMService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSource exposes the document-chunk index the retriever ranks over.
type ChunkSource interface {
	GetAllDocumentChunks() ([]store.DocumentChunk, error)
}

// ChunkRetriever ranks document chunks by cosine similarity against the
// query embedding. Chunks are loaded once at construction; query
// embeddings are cached so repeated questions skip the embedding call.
type ChunkRetriever struct {
	embedder   Embedder
	chunks     []store.DocumentChunk
	queryCache *cache.Cache
	logger     *zap.Logger
}

func NewChunkRetriever(source ChunkSource, embedder Embedder, logger *zap.Logger) (*ChunkRetriever, error) {
	chunks, err := source.GetAllDocumentChunks()
	if err != nil {
		return nil, fmt.Errorf("failed to load document chunks: %w", err)
	}
	if len(chunks) == 0 {
		logger.Warn("retriever initialized with an empty document index")
	} else {
		logger.Info("retriever initialized", zap.Int("chunks", len(chunks)))
	}

	return &ChunkRetriever{
		embedder:   embedder,
		chunks:     chunks,
		queryCache: cache.New(15*time.Minute, 5*time.Minute),
		logger:     logger,
	}, nil
}

func (r *ChunkRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if len(r.chunks) == 0 {
		return nil, nil
	}

	queryEmbedding, err := r.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	type scored struct {
		chunk      store.DocumentChunk
		similarity float32
	}
	candidates := make([]scored, 0, len(r.chunks))
	for _, chunk := range r.chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := utils.CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			r.logger.Warn("skipping chunk with incompatible embedding",
				zap.Int64("chunk_id", chunk.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, scored{chunk: chunk, similarity: similarity})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	passages := make([]Passage, 0, k)
	for _, c := range candidates[:k] {
		passages = append(passages, Passage{
			Text:   c.chunk.Content,
			Source: fmt.Sprintf("chunk-%d", c.chunk.ID),
		})
	}
	return passages, nil
}

func (r *ChunkRetriever) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if cached, found := r.queryCache.Get(query); found {
		return cached.([]float32), nil
	}
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.queryCache.Set(query, embedding, cache.DefaultExpiration)
	return embedding, nil
}

// GroundingBlock renders passages into the text block the persona prompt
// embeds, labeling each by ordinal position. Empty input yields "".
func GroundingBlock(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("Doküman %d:\n%s", i+1, p.Text))
	}
	return strings.Join(parts, "\n\n")
}
