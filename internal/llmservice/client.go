package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"docqa/internal/config"
	"docqa/internal/models"
)

// Generator turns a prompt into text through a generative-text service.
type Generator struct {
	llm llms.Model
}

func NewGenerator(llm llms.Model) *Generator {
	return &Generator{llm: llm}
}

// NewFromConfig connects to the configured inference provider.
func NewFromConfig(ctx context.Context, llmConfig *config.LLMConfig) (*Generator, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": llmConfig.Provider,
		"base_url": llmConfig.BaseURL,
		"model":    llmConfig.Model,
	}).Msg("Creating generator")

	llm, err := newModel(ctx, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing %s client: %v", models.ErrGenerationService, llmConfig.Provider, err)
	}
	return NewGenerator(llm), nil
}

func newModel(ctx context.Context, llmConfig *config.LLMConfig) (llms.Model, error) {
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
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
			googleai.WithDefaultModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", llmConfig.Provider)
	}
}

// Generate sends prompt as a single user message. An empty completion is an error.
func (g *Generator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	messages := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}

	resp, err := g.llm.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationService, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%w: no choices returned", models.ErrGenerationService)
	}

	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", models.ErrGenerationService)
	}

	log.Debug().Int("prompt_chars", len(prompt)).Int("answer_chars", len(content)).Float64("temperature", temperature).Msg("Generated content")
	return content, nil
}
