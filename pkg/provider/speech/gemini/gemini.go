// Package gemini provides a Gemini-backed speech provider using the Live
// bidirectional WebSocket API. It implements the speech.Provider interface.
//
// One Synthesize call opens a fresh connection, sends a setup message and a
// single complete user turn, collects the streamed audio parts, and closes
// the connection when the model signals turn completion. The Live API emits
// 16-bit PCM at 24 kHz.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/eburon/livecaption/pkg/provider/speech"
)

const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultModel    = "models/gemini-2.0-flash-live-001"
	defaultVoice    = "Kore"

	// outputSampleRate is fixed by the Live API.
	outputSampleRate = 24000
)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*Provider)

// WithModel sets the Live model resource name.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements speech.Provider backed by the Gemini Live API.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// New creates a new Gemini speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini speech: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// setupMessage configures the session for audio output with a named voice.
type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
	} `json:"setup"`
}

// clientContentMessage carries one complete user turn.
type clientContentMessage struct {
	ClientContent struct {
		Turns []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"turns"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"clientContent"`
}

// serverMessage is the subset of Live server messages we read.
type serverMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    struct {
			Parts []struct {
				InlineData struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"` // base64 PCM
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
	} `json:"serverContent"`
}

// buildSetup constructs the session setup payload.
func buildSetup(model, voiceName string) setupMessage {
	var msg setupMessage
	msg.Setup.Model = model
	msg.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = voiceName
	return msg
}

// buildTurn constructs a single complete user turn carrying text.
func buildTurn(text string) clientContentMessage {
	var msg clientContentMessage
	msg.ClientContent.Turns = []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}{{
		Role: "user",
		Parts: []struct {
			Text string `json:"text"`
		}{{Text: text}},
	}}
	msg.ClientContent.TurnComplete = true
	return msg
}

// Synthesize opens a Live session, speaks text, and returns the assembled
// PCM once the model completes its turn.
func (p *Provider) Synthesize(ctx context.Context, text string, voice speech.Voice) (*speech.Audio, error) {
	if text == "" {
		return nil, errors.New("gemini speech: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint+"?key="+p.apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini speech: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	voiceName := voice.Name
	if voiceName == "" {
		voiceName = defaultVoice
	}

	setupBytes, _ := json.Marshal(buildSetup(p.model, voiceName))
	if err := conn.Write(ctx, websocket.MessageText, setupBytes); err != nil {
		return nil, fmt.Errorf("gemini speech: send setup: %w", err)
	}

	turnBytes, _ := json.Marshal(buildTurn(text))
	if err := conn.Write(ctx, websocket.MessageText, turnBytes); err != nil {
		return nil, fmt.Errorf("gemini speech: send turn: %w", err)
	}

	var pcm []byte
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("gemini speech: read: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		for _, pt := range msg.ServerContent.ModelTurn.Parts {
			if pt.InlineData.Data == "" {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				continue
			}
			pcm = append(pcm, chunk...)
		}
		if msg.ServerContent.TurnComplete {
			break
		}
	}

	if len(pcm) == 0 {
		return nil, speech.ErrNoAudio
	}
	return &speech.Audio{PCM: pcm, SampleRate: outputSampleRate}, nil
}

var _ speech.Provider = (*Provider)(nil)
