// Command livecaption is the main entry point for the livecaption server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eburon/livecaption/internal/batch"
	"github.com/eburon/livecaption/internal/config"
	"github.com/eburon/livecaption/internal/health"
	"github.com/eburon/livecaption/internal/ingest"
	"github.com/eburon/livecaption/internal/meeting"
	"github.com/eburon/livecaption/internal/observe"
	"github.com/eburon/livecaption/internal/recorder"
	"github.com/eburon/livecaption/internal/resilience"
	"github.com/eburon/livecaption/internal/server"
	"github.com/eburon/livecaption/internal/transcript"
	"github.com/eburon/livecaption/pkg/provider/asr"
	asrdeepgram "github.com/eburon/livecaption/pkg/provider/asr/deepgram"
	asropenai "github.com/eburon/livecaption/pkg/provider/asr/openai"
	"github.com/eburon/livecaption/pkg/provider/speech"
	speechgemini "github.com/eburon/livecaption/pkg/provider/speech/gemini"
	"github.com/eburon/livecaption/pkg/provider/translate"
	trgemini "github.com/eburon/livecaption/pkg/provider/translate/gemini"
	trlibre "github.com/eburon/livecaption/pkg/provider/translate/libre"
	tropenai "github.com/eburon/livecaption/pkg/provider/translate/openai"
)

// shutdownTimeout bounds the whole graceful-shutdown sequence.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A local .env is optional; config values containing API keys usually come
	// from the environment in deployments.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "livecaption: load .env: %v\n", err)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without a restart.
	level := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Configuration (with hot reload) ───────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if !d.Empty() && (d.BatchingChanged || d.PollIntervalChanged || d.DuckFractionChanged) {
			slog.Info("pipeline tuning changed; new values apply to new sessions")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livecaption: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livecaption: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("livecaption starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	recognizer, err := buildASR(cfg, reg)
	if err != nil {
		slog.Error("failed to build recognition provider", "err", err)
		return 1
	}
	translator, err := buildTranslate(cfg, reg)
	if err != nil {
		slog.Error("failed to build translation provider", "err", err)
		return 1
	}
	synthesizer, err := buildSpeech(cfg, reg)
	if err != nil {
		slog.Error("failed to build synthesis provider", "err", err)
		return 1
	}

	// ── Transcript store ──────────────────────────────────────────────────────
	var store transcript.Store
	var checkers []health.Checker
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := transcript.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect transcript store", "err", err)
			return 1
		}
		store = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pg.Ping})
		slog.Info("transcript store ready", "backend", "postgres")
	} else {
		store = transcript.NewMemStore()
		slog.Warn("transcript store ready", "backend", "memory")
	}
	defer store.Close()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	metrics := observe.DefaultMetrics()
	pipeline := ingest.New(recognizer, store, ingest.WithMetrics(metrics))

	voice := speech.Voice{Name: cfg.TTS.Voice}
	manager, err := meeting.NewManager(meeting.ManagerConfig{
		Store:           store,
		Ingest:          pipeline,
		Translator:      translator,
		Speech:          synthesizer,
		Voice:           voice,
		DuckFraction:    cfg.Feedback.DuckFraction,
		PollInterval:    cfg.Translation.PollInterval,
		TTSTimeout:      cfg.TTS.Timeout,
		BatchOptions:    batchOptions(cfg.Batching),
		RecorderOptions: recorderOptions(cfg.Recorder),
		Metrics:         metrics,
	})
	if err != nil {
		slog.Error("failed to create meeting manager", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := server.New(server.Config{
		Manager:    manager,
		Ingest:     pipeline,
		Store:      store,
		Translator: translator,
		Speech:     synthesizer,
		Voice:      voice,
		Health:     health.New(checkers...),
		Metrics:    metrics,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", addr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []asrdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, asrdeepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, asrdeepgram.WithEndpoint(entry.BaseURL))
		}
		return asrdeepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []asropenai.Option
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithEndpoint(entry.BaseURL))
		}
		return asropenai.New(entry.APIKey, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("gemini", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []trgemini.Option
		if entry.Model != "" {
			opts = append(opts, trgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, trgemini.WithBaseURL(entry.BaseURL))
		}
		return trgemini.New(entry.APIKey, opts...)
	})

	reg.RegisterTranslate("libre", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []trlibre.Option
		if entry.APIKey != "" {
			opts = append(opts, trlibre.WithAPIKey(entry.APIKey))
		}
		return trlibre.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []tropenai.Option
		if entry.Model != "" {
			opts = append(opts, tropenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, tropenai.WithBaseURL(entry.BaseURL))
		}
		return tropenai.New(entry.APIKey, opts...)
	})

	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("gemini", func(entry config.ProviderEntry) (speech.Provider, error) {
		var opts []speechgemini.Option
		if entry.Model != "" {
			opts = append(opts, speechgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, speechgemini.WithEndpoint(entry.BaseURL))
		}
		return speechgemini.New(entry.APIKey, opts...)
	})
}

// buildASR creates the recognition provider, wrapped in a circuit-breaking
// fallback group when a fallback is configured.
func buildASR(cfg *config.Config, reg *config.Registry) (asr.Provider, error) {
	group := cfg.Providers.ASR
	if group.Primary.Name == "" {
		return nil, errors.New("providers.asr.primary is required")
	}
	primary, err := reg.CreateASR(group.Primary)
	if err != nil {
		return nil, fmt.Errorf("create asr provider %q: %w", group.Primary.Name, err)
	}
	slog.Info("provider created", "kind", "asr", "name", group.Primary.Name)
	if group.Fallback == nil {
		return primary, nil
	}

	fb, err := reg.CreateASR(*group.Fallback)
	if err != nil {
		return nil, fmt.Errorf("create asr fallback %q: %w", group.Fallback.Name, err)
	}
	f := resilience.NewASRFallback(primary, group.Primary.Name, resilience.FallbackConfig{})
	f.AddFallback(group.Fallback.Name, fb)
	slog.Info("provider created", "kind", "asr", "name", group.Fallback.Name, "role", "fallback")
	return f, nil
}

// buildTranslate creates the translation provider with optional fallback.
func buildTranslate(cfg *config.Config, reg *config.Registry) (translate.Provider, error) {
	group := cfg.Providers.Translate
	if group.Primary.Name == "" {
		return nil, errors.New("providers.translate.primary is required")
	}
	primary, err := reg.CreateTranslate(group.Primary)
	if err != nil {
		return nil, fmt.Errorf("create translate provider %q: %w", group.Primary.Name, err)
	}
	slog.Info("provider created", "kind", "translate", "name", group.Primary.Name)
	if group.Fallback == nil {
		return primary, nil
	}

	fb, err := reg.CreateTranslate(*group.Fallback)
	if err != nil {
		return nil, fmt.Errorf("create translate fallback %q: %w", group.Fallback.Name, err)
	}
	f := resilience.NewTranslateFallback(primary, group.Primary.Name, resilience.FallbackConfig{})
	f.AddFallback(group.Fallback.Name, fb)
	slog.Info("provider created", "kind", "translate", "name", group.Fallback.Name, "role", "fallback")
	return f, nil
}

// buildSpeech creates the synthesis provider with optional fallback.
func buildSpeech(cfg *config.Config, reg *config.Registry) (speech.Provider, error) {
	group := cfg.Providers.Speech
	if group.Primary.Name == "" {
		return nil, errors.New("providers.speech.primary is required")
	}
	primary, err := reg.CreateSpeech(group.Primary)
	if err != nil {
		return nil, fmt.Errorf("create speech provider %q: %w", group.Primary.Name, err)
	}
	slog.Info("provider created", "kind", "speech", "name", group.Primary.Name)
	if group.Fallback == nil {
		return primary, nil
	}

	fb, err := reg.CreateSpeech(*group.Fallback)
	if err != nil {
		return nil, fmt.Errorf("create speech fallback %q: %w", group.Fallback.Name, err)
	}
	f := resilience.NewSpeechFallback(primary, group.Primary.Name, resilience.FallbackConfig{})
	f.AddFallback(group.Fallback.Name, fb)
	slog.Info("provider created", "kind", "speech", "name", group.Fallback.Name, "role", "fallback")
	return f, nil
}

// ── Config helpers ────────────────────────────────────────────────────────────

func batchOptions(bc config.BatchingConfig) []batch.Option {
	var opts []batch.Option
	if bc.MinChars > 0 {
		opts = append(opts, batch.WithMinChars(bc.MinChars))
	}
	if bc.MaxChars > 0 {
		opts = append(opts, batch.WithMaxChars(bc.MaxChars))
	}
	if bc.TimeThreshold > 0 {
		opts = append(opts, batch.WithTimeThreshold(bc.TimeThreshold))
	}
	if bc.SentenceThreshold > 0 {
		opts = append(opts, batch.WithSentenceThreshold(bc.SentenceThreshold))
	}
	return opts
}

func recorderOptions(rc config.RecorderConfig) []recorder.Option {
	var opts []recorder.Option
	if rc.ChunkInterval > 0 {
		opts = append(opts, recorder.WithChunkInterval(rc.ChunkInterval))
	}
	if rc.PreferredMime != "" {
		opts = append(opts, recorder.WithPreferredMimeType(rc.PreferredMime))
	}
	if rc.FallbackMime != "" {
		opts = append(opts, recorder.WithFallbackMimeType(rc.FallbackMime))
	}
	return opts
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
