// Command echo is the localhost voice sidecar for terminal coding assistants.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/echovoice/echo/internal/app"
	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/internal/observe"
	"github.com/echovoice/echo/pkg/provider/stt"
	sttopenai "github.com/echovoice/echo/pkg/provider/stt/openai"
	"github.com/echovoice/echo/pkg/provider/stt/whisper"
	"github.com/echovoice/echo/pkg/provider/tts"
	"github.com/echovoice/echo/pkg/provider/tts/elevenlabs"
	"github.com/echovoice/echo/pkg/provider/tts/inworld"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echo starting",
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: app.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with Echo
// into reg. Each factory receives a config.ProviderEntry and constructs the
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.VoiceID != "" {
			opts = append(opts, elevenlabs.WithVoiceID(entry.VoiceID))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(entry.Timeout))
		}
		return elevenlabs.New(entry.APIKey, opts...), nil
	})

	reg.RegisterTTS("inworld", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []inworld.Option
		if entry.BaseURL != "" {
			opts = append(opts, inworld.WithBaseURL(entry.BaseURL))
		}
		if entry.VoiceID != "" {
			opts = append(opts, inworld.WithVoiceID(entry.VoiceID))
		}
		if entry.Model != "" {
			opts = append(opts, inworld.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, inworld.WithTimeout(entry.Timeout))
		}
		return inworld.New(entry.APIKey, opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, sttopenai.WithTimeout(entry.Timeout))
		}
		return sttopenai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...), nil
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. An unregistered name is skipped rather than fatal; the pipeline
// degrades to tones and typed responses.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	ttsEntry := cfg.TTS
	if ttsEntry.Name == "inworld" {
		ttsEntry = cfg.Inworld
	}
	if name := ttsEntry.Name; name != "" {
		p, err := reg.CreateTTS(ttsEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	// With an Inworld key alongside a different primary, chain it as a
	// synthesis fallback so narration survives an ElevenLabs outage.
	if ps.TTS != nil && ttsEntry.Name != "inworld" && cfg.Inworld.APIKey != "" {
		backup, err := reg.CreateTTS(cfg.Inworld)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", cfg.Inworld.Name, err)
		}
		ps.TTS = tts.NewFallback(ps.TTS, backup)
		slog.Info("tts fallback chained", "chain", ps.TTS.Name())
	}

	if name := cfg.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.STT.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Echo — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.LLM.Provider, cfg.LLM.Model)
	printProvider("TTS", cfg.TTS.Name, cfg.TTS.Model)
	printProvider("STT", cfg.STT.Name, cfg.STT.Model)
	if cfg.Remote.RoomURL != "" {
		fmt.Printf("║  Remote room     : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Remote room     : %-19s ║\n", "(disabled)")
	}
	if cfg.Dispatch.MethodOverride != "" {
		fmt.Printf("║  Dispatch        : %-19s ║\n", cfg.Dispatch.MethodOverride)
	} else {
		fmt.Printf("║  Dispatch        : %-19s ║\n", "auto-detect")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.Addr())
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
