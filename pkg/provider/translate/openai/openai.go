// Package openai provides a translation provider backed by the OpenAI chat
// completions API. It implements the translate.Provider interface and is
// typically configured as a fallback behind a primary translation backend.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/eburon/livecaption/pkg/provider/translate"
)

const defaultModel = "gpt-4o-mini"

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the chat model used for translation.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements translate.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI translation Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai translate: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model}, nil
}

// systemPrompt instructs the model to translate without commentary and to
// keep speaker labels intact.
func systemPrompt(req translate.Request) string {
	source := req.SourceLanguage
	if source == "" || source == "auto" {
		source = "the source language"
	}
	return fmt.Sprintf(
		"You are a translation engine. Translate the user's text from %s to %s. "+
			"Keep speaker labels such as \"Male 1:\" or \"Female 2:\" exactly as they are. "+
			"Reply with only the translation.",
		source, req.TargetLanguage,
	)
}

// Translate runs one chat completion with the batch as the user message.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai translate: text must not be empty")
	}
	if req.TargetLanguage == "" {
		return nil, fmt.Errorf("openai translate: target language must not be empty")
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt(req)),
			oai.UserMessage(req.Text),
		},
		Temperature: param.NewOpt(0.2),
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai translate: completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, translate.ErrEmptyTranslation
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return nil, translate.ErrEmptyTranslation
	}

	source := req.SourceLanguage
	if source == "" {
		source = "auto"
	}
	return &translate.Result{
		TranslatedText: text,
		OriginalText:   req.Text,
		SourceLanguage: source,
		TargetLanguage: req.TargetLanguage,
	}, nil
}

var _ translate.Provider = (*Provider)(nil)
