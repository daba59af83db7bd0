package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"groundedqa/internal/rag/domain"
)

// Anthropic implements Provider.Chat on github.com/anthropics/anthropic-sdk-go.
// It has no embedding endpoint: Embed always fails, and AI_PROVIDER=anthropic
// routes embedding calls to the configured OpenAI-compatible embedder
// instead (wired by the service constructor, not this type).
type Anthropic struct {
	sdk         anthropic.Client
	model       string
	maxTokens   int64
	maxRetries  int
	callTimeout time.Duration
}

// AnthropicConfig configures an Anthropic chat-only provider.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	MaxRetries  int
	CallTimeout time.Duration
}

func NewAnthropic(cfg AnthropicConfig, httpClient *http.Client) *Anthropic {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Anthropic{
		sdk:         anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		maxRetries:  retries,
		callTimeout: timeout,
	}
}

func (c *Anthropic) Name() string   { return "anthropic:" + c.model }
func (c *Anthropic) Dimension() int { return 0 }

func (c *Anthropic) Embed(context.Context, []string) ([][]float32, error) {
	return nil, domain.ProviderError("provider.anthropic.embed", fmt.Errorf("anthropic has no embedding endpoint"))
}

func (c *Anthropic) Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (ChatResult, error) {
	var sys string
	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			sys = m.Content
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		resp, err := c.sdk.Messages.New(cctx, params)
		cancel()
		if err == nil {
			var text strings.Builder
			for _, block := range resp.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			return ChatResult{
				Text: text.String(),
				Usage: Usage{
					PromptTokens:     int(resp.Usage.InputTokens),
					CompletionTokens: int(resp.Usage.OutputTokens),
				},
			}, nil
		}
		lastErr = err
		if !isTransient(err) {
			return ChatResult{}, domain.ProviderError("provider.anthropic.chat", err)
		}
		backoff(attempt)
	}
	return ChatResult{}, domain.ProviderError("provider.anthropic.chat", lastErr)
}

var _ Provider = (*Anthropic)(nil)
