// Package libre provides a LibreTranslate-backed translation provider. It
// implements the translate.Provider interface against a self-hosted or
// public LibreTranslate instance.
package libre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eburon/livecaption/pkg/provider/translate"
)

// Option is a functional option for configuring the LibreTranslate Provider.
type Option func(*Provider)

// WithAPIKey sets the api_key field sent with every request. Public
// instances usually require one; self-hosted ones may not.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements translate.Provider backed by LibreTranslate.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new LibreTranslate Provider pointing at baseURL (e.g.
// "http://localhost:5000").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("libre: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage struct {
		Language string `json:"language"`
	} `json:"detectedLanguage"`
}

// Translate posts the batch to /translate with source "auto" unless the
// request pins a source language.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if req.Text == "" {
		return nil, errors.New("libre: text must not be empty")
	}
	if req.TargetLanguage == "" {
		return nil, errors.New("libre: target language must not be empty")
	}

	source := req.SourceLanguage
	if source == "" {
		source = "auto"
	}
	body, err := json.Marshal(translateRequest{
		Q:      req.Text,
		Source: source,
		Target: req.TargetLanguage,
		Format: "text",
		APIKey: p.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("libre: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("libre: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("libre: translate HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &translate.ProviderError{
			Provider:   "libre",
			StatusCode: resp.StatusCode,
			Message:    string(msg),
		}
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("libre: decode response: %w", err)
	}

	text := strings.TrimSpace(tr.TranslatedText)
	if text == "" {
		return nil, translate.ErrEmptyTranslation
	}
	if detected := tr.DetectedLanguage.Language; detected != "" {
		source = detected
	}
	return &translate.Result{
		TranslatedText: text,
		OriginalText:   req.Text,
		SourceLanguage: source,
		TargetLanguage: req.TargetLanguage,
	}, nil
}

var _ translate.Provider = (*Provider)(nil)
