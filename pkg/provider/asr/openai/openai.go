// Package openai provides an OpenAI Whisper-backed ASR provider using the
// audio transcriptions REST API. It implements the asr.Provider interface.
//
// Whisper does not diarize, so results carry no per-word speaker ids; the
// caller's speaker formatting falls back to the raw transcript.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/eburon/livecaption/pkg/provider/asr"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	defaultModel    = "whisper-1"
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "whisper-1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements asr.Provider backed by the OpenAI transcription API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new OpenAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai asr: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// transcriptionResponse is the verbose_json response subset we read.
type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe uploads the chunk as a multipart form and returns the
// recognized text. The filename extension is derived from mimeType because
// the API rejects uploads it cannot identify.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*asr.Result, error) {
	if len(audio) == 0 {
		return &asr.Result{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "chunk"+extensionFor(mimeType))
	if err != nil {
		return nil, fmt.Errorf("openai asr: build form: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("openai asr: write audio: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return nil, fmt.Errorf("openai asr: write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("openai asr: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai asr: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("openai asr: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai asr: transcribe HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &asr.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    string(msg),
		}
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("openai asr: decode response: %w", err)
	}
	return &asr.Result{
		Text:             tr.Text,
		DetectedLanguage: tr.Language,
	}, nil
}

// extensionFor picks an upload filename extension for the given MIME type.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".wav"
	}
}

var _ asr.Provider = (*Provider)(nil)
