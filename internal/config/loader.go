package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":       {"deepgram", "openai"},
	"translate": {"gemini", "libre", "openai"},
	"speech":    {"gemini"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} and $VAR references are expanded from the environment before
// decoding, so API keys can live outside the config file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderGroup("asr", cfg.Providers.ASR)
	validateProviderGroup("translate", cfg.Providers.Translate)
	validateProviderGroup("speech", cfg.Providers.Speech)

	// Provider availability warnings
	if cfg.Providers.ASR.Primary.Name == "" {
		slog.Warn("no ASR provider configured; meeting audio will not be transcribed")
	}
	if cfg.Providers.Translate.Primary.Name == "" {
		slog.Warn("no translation provider configured; listeners will only see source-language captions")
	}
	if cfg.Providers.Speech.Primary.Name == "" {
		slog.Warn("no speech provider configured; translated captions will not be spoken")
	}

	// A fallback block without a name is almost certainly a mistake.
	for kind, group := range map[string]ProviderGroup{
		"asr":       cfg.Providers.ASR,
		"translate": cfg.Providers.Translate,
		"speech":    cfg.Providers.Speech,
	} {
		if group.Fallback != nil && group.Fallback.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback.name is required when fallback is set", kind))
		}
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts will be kept in memory only")
	}

	// Batching
	if cfg.Batching.MinChars < 0 {
		errs = append(errs, fmt.Errorf("batching.min_chars %d must not be negative", cfg.Batching.MinChars))
	}
	if cfg.Batching.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("batching.max_chars %d must not be negative", cfg.Batching.MaxChars))
	}
	if cfg.Batching.MinChars > 0 && cfg.Batching.MaxChars > 0 && cfg.Batching.MinChars > cfg.Batching.MaxChars {
		errs = append(errs, fmt.Errorf("batching.min_chars %d exceeds batching.max_chars %d", cfg.Batching.MinChars, cfg.Batching.MaxChars))
	}
	if cfg.Batching.TimeThreshold < 0 {
		errs = append(errs, fmt.Errorf("batching.time_threshold %v must not be negative", cfg.Batching.TimeThreshold))
	}
	if cfg.Batching.SentenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("batching.sentence_threshold %d must not be negative", cfg.Batching.SentenceThreshold))
	}

	// TTS
	if cfg.TTS.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tts.timeout %v must not be negative", cfg.TTS.Timeout))
	}

	// Recorder
	if cfg.Recorder.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("recorder.chunk_interval %v must not be negative", cfg.Recorder.ChunkInterval))
	}

	// Feedback
	if cfg.Feedback.DuckFraction < 0 || cfg.Feedback.DuckFraction > 1 {
		errs = append(errs, fmt.Errorf("feedback.duck_fraction %.2f is out of range [0, 1]", cfg.Feedback.DuckFraction))
	}
	if cfg.Feedback.CaptureDevice != "" && cfg.Feedback.CaptureDevice == cfg.Feedback.PlaybackDevice {
		errs = append(errs, fmt.Errorf("feedback.capture_device and feedback.playback_device are both %q; playback would feed back into capture", cfg.Feedback.CaptureDevice))
	}

	// Translation
	if cfg.Translation.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("translation.poll_interval %v must not be negative", cfg.Translation.PollInterval))
	}

	return errors.Join(errs...)
}

// validateProviderGroup warns about unknown primary and fallback names for kind.
func validateProviderGroup(kind string, group ProviderGroup) {
	validateProviderName(kind, group.Primary.Name)
	if group.Fallback != nil {
		validateProviderName(kind, group.Fallback.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
