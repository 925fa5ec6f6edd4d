package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"docqa/internal/models"
)

// VectorIndex stores chunk embeddings per collection and answers similarity queries.
type VectorIndex interface {
	Create(ctx context.Context, key string) (*models.CollectionHandle, error)
	Add(ctx context.Context, h *models.CollectionHandle, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, h *models.CollectionHandle, query []float32, k int) ([]models.ScoredChunk, error)
	Drop(ctx context.Context, h *models.CollectionHandle) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Retriever finds the chunks closest to a question.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	topK     int
}

func NewRetriever(embedder Embedder, index VectorIndex, topK int) *Retriever {
	if topK <= 0 {
		topK = models.DefaultTopK
	}
	return &Retriever{embedder: embedder, index: index, topK: topK}
}

// RetrieveScored embeds query and returns the k best matches with their scores.
// k <= 0 uses the configured default.
func (r *Retriever) RetrieveScored(ctx context.Context, h *models.CollectionHandle, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.topK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := r.index.Search(ctx, h, vector, k)
	if err != nil {
		return nil, err
	}

	for i, res := range results {
		log.Debug().Int("rank", i+1).Int("chunk", res.Chunk.ChunkIndex).Ints("pages", res.Chunk.Pages).Float32("score", res.Score).Msg("Retrieved chunk")
	}
	return results, nil
}

// Retrieve is RetrieveScored without the scores.
func (r *Retriever) Retrieve(ctx context.Context, h *models.CollectionHandle, query string, k int) ([]models.Chunk, error) {
	results, err := r.RetrieveScored(ctx, h, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(results))
	for i, res := range results {
		chunks[i] = res.Chunk
	}
	return chunks, nil
}

// Synthesizer answers a question from retrieved chunks.
type Synthesizer struct {
	generator   Generator
	template    prompts.PromptTemplate
	temperature float64
}

func NewSynthesizer(generator Generator, temperature float64) *Synthesizer {
	return &Synthesizer{
		generator:   generator,
		template:    prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{models.PromptVarContext, models.PromptVarQuestion}),
		temperature: temperature,
	}
}

// BuildPrompt renders the grounding prompt: chunk texts in retrieval order
// as context, followed by the question as given.
func (s *Synthesizer) BuildPrompt(question string, chunks []models.Chunk) (string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	prompt, err := s.template.Format(map[string]any{
		models.PromptVarContext:  strings.Join(texts, models.ContextSeparator),
		models.PromptVarQuestion: question,
	})
	if err != nil {
		return "", fmt.Errorf("%w: rendering prompt: %v", models.ErrGenerationService, err)
	}
	return prompt, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []models.Chunk) (*models.Answer, error) {
	prompt, err := s.BuildPrompt(question, chunks)
	if err != nil {
		return nil, err
	}

	content, err := s.generator.Generate(ctx, prompt, s.temperature)
	if err != nil {
		return nil, err
	}

	sources := make([]models.Chunk, len(chunks))
	copy(sources, chunks)
	return &models.Answer{Content: content, Sources: sources}, nil
}
