package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/echovoice/echo/internal/config"
	"github.com/echovoice/echo/pkg/provider/stt"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := config.FromEnv()

	if cfg.Server.Port != 7865 {
		t.Errorf("Port = %d, want 7865", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.BacklogThreshold != 3 {
		t.Errorf("BacklogThreshold = %d, want 3", cfg.Audio.BacklogThreshold)
	}
	if cfg.Alert.RepeatInterval != 30*time.Second {
		t.Errorf("RepeatInterval = %v, want 30s", cfg.Alert.RepeatInterval)
	}
	if cfg.Alert.MaxRepeats != 5 {
		t.Errorf("MaxRepeats = %d, want 5", cfg.Alert.MaxRepeats)
	}
	if cfg.Batch.Window != 500*time.Millisecond {
		t.Errorf("Batch.Window = %v, want 500ms", cfg.Batch.Window)
	}
	if cfg.STT.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.STT.ConfidenceThreshold)
	}
	if cfg.TTS.Name != "elevenlabs" {
		t.Errorf("TTS.Name = %q, want elevenlabs", cfg.TTS.Name)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ECHO_PORT", "9000")
	t.Setenv("ECHO_LOG_LEVEL", "debug")
	t.Setenv("ECHO_ALERT_REPEAT_INTERVAL", "10")  // bare seconds
	t.Setenv("ECHO_BATCH_WINDOW", "250ms")        // Go duration
	t.Setenv("ECHO_STT_SILENCE_DURATION", "0.75") // fractional seconds
	t.Setenv("ECHO_AUDIO_BACKLOG_THRESHOLD", "not-a-number")

	cfg := config.FromEnv()

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Alert.RepeatInterval != 10*time.Second {
		t.Errorf("RepeatInterval = %v, want 10s", cfg.Alert.RepeatInterval)
	}
	if cfg.Batch.Window != 250*time.Millisecond {
		t.Errorf("Batch.Window = %v, want 250ms", cfg.Batch.Window)
	}
	if cfg.STT.SilenceDuration != 750*time.Millisecond {
		t.Errorf("SilenceDuration = %v, want 750ms", cfg.STT.SilenceDuration)
	}
	// Unparsable value falls back to the default.
	if cfg.Audio.BacklogThreshold != 3 {
		t.Errorf("BacklogThreshold = %d, want default 3", cfg.Audio.BacklogThreshold)
	}
}

func TestFromEnvInvalidLogLevelFallsBack(t *testing.T) {
	t.Setenv("ECHO_LOG_LEVEL", "loud")
	cfg := config.FromEnv()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := config.NewRegistry()

	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS err = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateSTT(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return nil, nil
	})

	entry := config.ProviderEntry{Name: "fake", APIKey: "k", Model: "m"}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotEntry != entry {
		t.Errorf("factory received %+v, want %+v", gotEntry, entry)
	}
}
