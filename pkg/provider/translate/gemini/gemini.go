// Package gemini provides a Gemini-backed translation provider using the
// generateContent REST API. It implements the translate.Provider interface.
package gemini

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

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*Provider)

// WithModel sets the Gemini model (e.g., "gemini-2.0-flash").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements translate.Provider backed by the Gemini API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- request/response types ----

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// buildPrompt produces the translation instruction. The model must output
// only the translation and keep speaker labels untouched.
func buildPrompt(req translate.Request) string {
	source := req.SourceLanguage
	if source == "" || source == "auto" {
		source = "the detected source language"
	}
	return fmt.Sprintf(
		"Translate the following text from %s to %s. "+
			"Keep speaker labels such as \"Male 1:\" or \"Female 2:\" exactly as they are. "+
			"Output only the translation, nothing else.\n\n%s",
		source, req.TargetLanguage, req.Text,
	)
}

// Translate sends the batch to Gemini and returns the first candidate text.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if req.Text == "" {
		return nil, errors.New("gemini: text must not be empty")
	}
	if req.TargetLanguage == "" {
		return nil, errors.New("gemini: target language must not be empty")
	}

	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: buildPrompt(req)}}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: translate HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &translate.ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode,
			Message:    string(msg),
		}
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}

	text := firstCandidateText(&gr)
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

// firstCandidateText joins the parts of the first candidate and trims it.
func firstCandidateText(gr *generateResponse) string {
	if len(gr.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, pt := range gr.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return strings.TrimSpace(sb.String())
}

var _ translate.Provider = (*Provider)(nil)
