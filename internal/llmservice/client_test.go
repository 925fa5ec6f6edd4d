package llmservice_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"docqa/internal/config"
	"docqa/internal/llmservice"
	"docqa/internal/models"
)

type fakeModel struct {
	reply    *llms.ContentResponse
	err      error
	prompt   string
	options  llms.CallOptions
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if text, ok := messages[0].Parts[0].(llms.TextContent); ok {
			m.prompt = text.Text
		}
	}
	return m.reply, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{reply: reply(" It is about whales. ")}
	g := llmservice.NewGenerator(model)

	text, err := g.Generate(context.Background(), "What is the main topic?", 0.3)
	require.NoError(t, err)
	assert.Equal(t, "It is about whales.", text)
	assert.Equal(t, "What is the main topic?", model.prompt)
	assert.InDelta(t, 0.3, model.options.Temperature, 1e-9)
	require.Len(t, model.messages, 1)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[0].Role)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "service error", model: &fakeModel{err: errors.New("401 unauthorized")}},
		{name: "no choices", model: &fakeModel{reply: &llms.ContentResponse{}}},
		{name: "nil response", model: &fakeModel{}},
		{name: "blank completion", model: &fakeModel{reply: reply("  \n")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := llmservice.NewGenerator(tt.model).Generate(context.Background(), "q", 0.3)
			assert.ErrorIs(t, err, models.ErrGenerationService)
			assert.Empty(t, text)
		})
	}
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	_, err := llmservice.NewFromConfig(context.Background(), &config.LLMConfig{Provider: "bard"})
	assert.ErrorIs(t, err, models.ErrGenerationService)
}

func TestNewFromConfig_Ollama(t *testing.T) {
	g, err := llmservice.NewFromConfig(context.Background(), &config.LLMConfig{
		Provider: config.ProviderOllama,
		BaseURL:  "http://localhost:11434",
		Model:    "llama3.2",
	})
	require.NoError(t, err)
	assert.NotNil(t, g)
}
