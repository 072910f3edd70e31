// Package deepgram provides a Deepgram-backed ASR provider using the
// prerecorded transcription REST API. It implements the asr.Provider
// interface with diarization enabled, so results carry per-word speaker ids.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/eburon/livecaption/pkg/provider/asr"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-2"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-2", "nova-3").
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

// Provider implements asr.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
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

// ---- response types ----

// listenResponse is the subset of the Deepgram prerecorded response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Speaker        *int    `json:"speaker"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends the audio chunk to Deepgram with smart formatting and
// diarization enabled and maps the first alternative into an asr.Result.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (*asr.Result, error) {
	if len(audio) == 0 {
		return &asr.Result{}, nil
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	q.Set("diarize", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"?"+q.Encode(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", mimeType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &asr.ProviderError{
			Provider:   "deepgram",
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}
	return mapResponse(&lr), nil
}

// mapResponse converts the raw Deepgram payload into an asr.Result. A
// response with no channels or alternatives maps to an empty result.
func mapResponse(lr *listenResponse) *asr.Result {
	if len(lr.Results.Channels) == 0 {
		return &asr.Result{}
	}
	ch := lr.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return &asr.Result{}
	}
	alt := ch.Alternatives[0]

	res := &asr.Result{
		Text:             alt.Transcript,
		Confidence:       alt.Confidence,
		DetectedLanguage: ch.DetectedLanguage,
	}
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		speaker := -1
		if w.Speaker != nil {
			speaker = *w.Speaker
		}
		res.Words = append(res.Words, asr.Word{
			Text:       text,
			Speaker:    speaker,
			Confidence: w.Confidence,
		})
	}
	return res
}

var _ asr.Provider = (*Provider)(nil)
