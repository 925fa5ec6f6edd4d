package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"docqa/internal/config"
	"docqa/internal/models"
)

// Embedder maps text to vectors through an external embedding service.
type Embedder struct {
	impl        embeddings.Embedder
	limiter     *rate.Limiter
	batchSize   int
	concurrency int
}

// NewEmbedder wraps impl. A nil limiter means no pacing.
func NewEmbedder(impl embeddings.Embedder, limiter *rate.Limiter, batchSize, concurrency int) *Embedder {
	if batchSize <= 0 {
		batchSize = models.DefaultEmbedBatch
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Embedder{impl: impl, limiter: limiter, batchSize: batchSize, concurrency: concurrency}
}

// NewFromConfig builds the langchaingo client for the configured provider.
func NewFromConfig(ctx context.Context, llmConfig *config.LLMConfig, ragConfig *config.RAGConfig) (*Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	client, err := newClient(ctx, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing %s client: %v", models.ErrEmbeddingService, llmConfig.Provider, err)
	}

	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(ragConfig.EmbedBatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", models.ErrEmbeddingService, err)
	}

	var limiter *rate.Limiter
	if ragConfig.EmbedRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ragConfig.EmbedRequestsPerSecond), 1)
	}
	return NewEmbedder(impl, limiter, ragConfig.EmbedBatchSize, ragConfig.EmbedConcurrency), nil
}

func newClient(ctx context.Context, llmConfig *config.LLMConfig) (embeddings.EmbedderClient, error) {
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithEmbeddingModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		return openai.New(opts...)
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		return ollama.New(opts...)
	case config.ProviderGoogleAI:
		return googleai.New(ctx,
			googleai.WithAPIKey(llmConfig.Key),
			googleai.WithDefaultEmbeddingModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", llmConfig.Provider)
	}
}

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	// EmbedDocuments instead of EmbedQuery: the latter indexes the reply without checking it
	vectors, err := e.impl.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", models.ErrEmbeddingService)
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in parallel batches. Output order matches input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		start := start
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			if err := e.wait(gctx); err != nil {
				return err
			}
			batch, err := e.impl.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: batch %d-%d: %w", models.ErrEmbeddingService, start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("%w: batch %d-%d returned %d vectors", models.ErrEmbeddingService, start, end, len(batch))
			}
			for i, v := range batch {
				if len(v) == 0 {
					return fmt.Errorf("%w: empty embedding for text %d", models.ErrEmbeddingService, start+i)
				}
				vectors[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Int("texts", len(texts)).Int("batch_size", e.batchSize).Msg("Generated embeddings")
	return vectors, nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: waiting for rate limiter: %w", models.ErrEmbeddingService, err)
	}
	return nil
}
