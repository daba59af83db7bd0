package provider

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"groundedqa/internal/config"
	"groundedqa/internal/rag/domain"
)

// OpenAICompatible implements Provider on top of github.com/openai/openai-go/v2,
// pointed at either the real OpenAI API or any OpenAI-compatible endpoint
// (self-hosted embedding/chat servers included) via cfg.BaseURL. It is the
// default AI_PROVIDER=real implementation for both embed and chat.
type OpenAICompatible struct {
	sdk          sdk.Client
	chatModel    string
	embedModel   string
	dim          int
	batchSize    int
	maxRetries   int
	callTimeout  time.Duration
}

// OpenAIConfig configures an OpenAICompatible provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Dim         int
	BatchSize   int
	MaxRetries  int
	CallTimeout time.Duration
}

// NewOpenAICompatible builds a provider from cfg, wiring through an HTTP
// client suitable for self-hosted endpoints (no auth header when APIKey is
// empty, as local llama.cpp/vLLM servers expect).
func NewOpenAICompatible(cfg OpenAIConfig, httpClient *http.Client) *OpenAICompatible {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAICompatible{
		sdk:         sdk.NewClient(opts...),
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		dim:         cfg.Dim,
		batchSize:   batch,
		maxRetries:  retries,
		callTimeout: timeout,
	}
}

// FromConfig adapts the ambient config.EmbeddingConfig/AI section into an
// OpenAICompatible provider.
func FromConfig(cfg config.EmbeddingConfig, chatModel string, dim int) *OpenAICompatible {
	return NewOpenAICompatible(OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		ChatModel:  chatModel,
		EmbedModel: cfg.Model,
		Dim:        dim,
		BatchSize:  cfg.BatchSize,
	}, nil)
}

func (c *OpenAICompatible) Name() string   { return "openai:" + c.chatModel }
func (c *OpenAICompatible) Dimension() int { return c.dim }

func (c *OpenAICompatible) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *OpenAICompatible) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		resp, err := c.sdk.Embeddings.New(cctx, sdk.EmbeddingNewParams{
			Model: sdk.EmbeddingModel(c.embedModel),
			Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		cancel()
		if err == nil {
			out := make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				vec := make([]float32, len(d.Embedding))
				for j, f := range d.Embedding {
					vec[j] = float32(f)
				}
				out[i] = vec
			}
			return out, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, domain.ProviderError("provider.openai.embed", err)
		}
		backoff(attempt)
	}
	return nil, domain.ProviderError("provider.openai.embed", lastErr)
}

func (c *OpenAICompatible) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (ChatResult, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.chatModel),
		Messages: adaptMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(opts.MaxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		comp, err := c.sdk.Chat.Completions.New(cctx, params)
		cancel()
		if err == nil {
			if len(comp.Choices) == 0 {
				return ChatResult{}, domain.ProviderError("provider.openai.chat", fmt.Errorf("empty choices"))
			}
			return ChatResult{
				Text: comp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     int(comp.Usage.PromptTokens),
					CompletionTokens: int(comp.Usage.CompletionTokens),
				},
			}, nil
		}
		lastErr = err
		if !isTransient(err) {
			return ChatResult{}, domain.ProviderError("provider.openai.chat", err)
		}
		backoff(attempt)
	}
	return ChatResult{}, domain.ProviderError("provider.openai.chat", lastErr)
}

func adaptMessages(messages []ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// isTransient treats network errors and 429/5xx as retryable; anything else
// (auth, 4xx validation) is terminal.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection reset", "connection refused", "429", "500", "502", "503", "504", "temporarily unavailable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func backoff(attempt int) {
	base := time.Duration(1<<attempt) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	time.Sleep(base + jitter)
}

var _ Provider = (*OpenAICompatible)(nil)
