// Package config provides the configuration schema, environment loader, and
// provider registry for the Echo voice sidecar.
//
// All values are read from environment variables once at startup via
// [FromEnv]; the resulting Config is immutable and threaded explicitly to
// constructors. Defaults are encoded as constants below.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LogLevel controls log verbosity for the Echo server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults for every tunable. Each maps to an environment variable of the
// same concern; see [FromEnv] for the variable names.
const (
	DefaultPort             = 7865
	DefaultBusBufferSize    = 256
	DefaultSampleRate       = 16000
	DefaultBacklogThreshold = 3

	DefaultBatchWindow  = 500 * time.Millisecond
	DefaultMaxBatchSize = 10

	DefaultAlertRepeatInterval = 30 * time.Second
	DefaultAlertMaxRepeats     = 5

	DefaultLLMProvider   = "ollama"
	DefaultLLMModel      = "qwen2.5:0.5b"
	DefaultLLMTimeout    = 5 * time.Second
	DefaultOllamaBaseURL = "http://localhost:11434"

	DefaultTTSProvider       = "elevenlabs"
	DefaultTTSVoiceID        = "21m00Tcm4TlvDq8ikWAM"
	DefaultTTSModel          = "eleven_turbo_v2_5"
	DefaultTTSTimeout        = 10 * time.Second
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultInworldBaseURL    = "https://api.inworld.ai"

	DefaultSTTProvider = "openai"
	DefaultSTTModel    = "whisper-1"
	DefaultSTTTimeout  = 10 * time.Second

	DefaultConfidenceThreshold = 0.6
	DefaultSilenceThreshold    = 0.01
	DefaultSilenceDuration     = 1500 * time.Millisecond
	DefaultMaxRecordDuration   = 15 * time.Second
	DefaultListenTimeout       = 30 * time.Second

	DefaultHealthCheckInterval = 60 * time.Second
)

// Config is the root configuration structure for Echo, grouped by pipeline
// stage.
type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	TTS        ProviderEntry
	Inworld    ProviderEntry
	STT        STTConfig
	Audio      AudioConfig
	Alert      AlertConfig
	Batch      BatchConfig
	Transcript TranscriptConfig
	Remote     RemoteConfig
	Dispatch   DispatchConfig
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the localhost TCP port the HTTP surface listens on.
	Port int

	// LogLevel controls verbosity.
	LogLevel LogLevel

	// BusBufferSize is the per-subscription channel capacity of every bus.
	BusBufferSize int
}

// Addr returns the loopback listen address for the configured port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.Port)
}

// LLMConfig selects the local generative backend used for agent-message
// summarization.
type LLMConfig struct {
	// Provider selects the any-llm backend ("ollama" by default).
	Provider string

	// BaseURL is the backend's address; also the target of the /api/tags
	// availability probe.
	BaseURL string

	// Model names the model to request.
	Model string

	// Timeout bounds each completion request.
	Timeout time.Duration

	// HealthCheckInterval is how often availability is re-probed while the
	// backend is down.
	HealthCheckInterval time.Duration
}

// ProviderEntry is the common configuration block shared by TTS and STT
// provider selections. The Name field is used to look up the constructor in
// the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "elevenlabs", "inworld", "openai", "whisper").
	Name string

	// APIKey is the authentication key for the provider's API if any.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string

	// Model selects a specific model within the provider.
	Model string

	// VoiceID selects the synthesis voice (TTS only).
	VoiceID string

	// Timeout bounds each request to the provider.
	Timeout time.Duration
}

// STTConfig holds the transcription provider selection plus the capture and
// matching thresholds of the reply loop.
type STTConfig struct {
	ProviderEntry

	// ConfidenceThreshold gates dispatch of non-verbatim matches and the
	// fuzzy matching strategy.
	ConfidenceThreshold float64

	// SilenceThreshold is the normalized RMS level (0..1) below which a
	// capture chunk counts as silence.
	SilenceThreshold float64

	// SilenceDuration is the contiguous silence window that ends a capture.
	SilenceDuration time.Duration

	// MaxRecordDuration caps a single capture.
	MaxRecordDuration time.Duration

	// ListenTimeout bounds the wait for speech onset.
	ListenTimeout time.Duration
}

// AudioConfig holds output-pipeline tunables.
type AudioConfig struct {
	// SampleRate is the process-wide PCM sample rate in Hz.
	SampleRate int

	// BacklogThreshold is the queue depth above which low-priority
	// narrations are skipped.
	BacklogThreshold int
}

// AlertConfig controls the repeat behaviour of active alerts.
type AlertConfig struct {
	// RepeatInterval is the pause between alert replays. Zero disables
	// repeats.
	RepeatInterval time.Duration

	// MaxRepeats caps the number of replays per alert.
	MaxRepeats int
}

// BatchConfig controls the tool-event batcher.
type BatchConfig struct {
	// Window is the collection interval measured from the first event of a
	// batch.
	Window time.Duration

	// MaxSize flushes the batch immediately once reached.
	MaxSize int
}

// TranscriptConfig locates the assistant's session transcripts.
type TranscriptConfig struct {
	// ProjectsPath is the root directory watched for *.jsonl files.
	ProjectsPath string
}

// RemoteConfig configures the optional remote audio sink. Both fields empty
// means the sink stays disconnected and publishing is a no-op.
type RemoteConfig struct {
	// RoomURL is the websocket address of the media room.
	RoomURL string

	// RoomToken authenticates the room connection.
	RoomToken string
}

// DispatchConfig configures keystroke injection.
type DispatchConfig struct {
	// MethodOverride forces a dispatch method ("tmux", "applescript",
	// "xdotool") instead of auto-detection. Empty selects automatically.
	MethodOverride string
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset. It never fails: unparsable values fall back to defaults.
func FromEnv() *Config {
	home, _ := os.UserHomeDir()

	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("ECHO_PORT", DefaultPort),
			LogLevel:      LogLevel(envStr("ECHO_LOG_LEVEL", string(LogInfo))),
			BusBufferSize: envInt("ECHO_BUS_BUFFER_SIZE", DefaultBusBufferSize),
		},
		LLM: LLMConfig{
			Provider:            envStr("ECHO_LLM_PROVIDER", DefaultLLMProvider),
			BaseURL:             envStr("OLLAMA_BASE_URL", DefaultOllamaBaseURL),
			Model:               envStr("ECHO_LLM_MODEL", DefaultLLMModel),
			Timeout:             envDuration("ECHO_LLM_TIMEOUT", DefaultLLMTimeout),
			HealthCheckInterval: envDuration("ECHO_HEALTH_CHECK_INTERVAL", DefaultHealthCheckInterval),
		},
		TTS: ProviderEntry{
			Name:    envStr("ECHO_TTS_PROVIDER", DefaultTTSProvider),
			APIKey:  envStr("ECHO_ELEVENLABS_API_KEY", ""),
			BaseURL: envStr("ECHO_ELEVENLABS_BASE_URL", DefaultElevenLabsBaseURL),
			Model:   envStr("ECHO_TTS_MODEL", DefaultTTSModel),
			VoiceID: envStr("ECHO_TTS_VOICE_ID", DefaultTTSVoiceID),
			Timeout: envDuration("ECHO_TTS_TIMEOUT", DefaultTTSTimeout),
		},
		Inworld: ProviderEntry{
			Name:    "inworld",
			APIKey:  envStr("ECHO_INWORLD_API_KEY", ""),
			BaseURL: envStr("ECHO_INWORLD_BASE_URL", DefaultInworldBaseURL),
			VoiceID: envStr("ECHO_INWORLD_VOICE_ID", ""),
			Timeout: envDuration("ECHO_TTS_TIMEOUT", DefaultTTSTimeout),
		},
		STT: STTConfig{
			ProviderEntry: ProviderEntry{
				Name:    envStr("ECHO_STT_PROVIDER", DefaultSTTProvider),
				APIKey:  envStr("ECHO_STT_API_KEY", ""),
				BaseURL: envStr("ECHO_STT_BASE_URL", ""),
				Model:   envStr("ECHO_STT_MODEL", DefaultSTTModel),
				Timeout: envDuration("ECHO_STT_TIMEOUT", DefaultSTTTimeout),
			},
			ConfidenceThreshold: envFloat("ECHO_STT_CONFIDENCE_THRESHOLD", DefaultConfidenceThreshold),
			SilenceThreshold:    envFloat("ECHO_STT_SILENCE_THRESHOLD", DefaultSilenceThreshold),
			SilenceDuration:     envDuration("ECHO_STT_SILENCE_DURATION", DefaultSilenceDuration),
			MaxRecordDuration:   envDuration("ECHO_STT_MAX_RECORD_DURATION", DefaultMaxRecordDuration),
			ListenTimeout:       envDuration("ECHO_STT_LISTEN_TIMEOUT", DefaultListenTimeout),
		},
		Audio: AudioConfig{
			SampleRate:       envInt("ECHO_AUDIO_SAMPLE_RATE", DefaultSampleRate),
			BacklogThreshold: envInt("ECHO_AUDIO_BACKLOG_THRESHOLD", DefaultBacklogThreshold),
		},
		Alert: AlertConfig{
			RepeatInterval: envDuration("ECHO_ALERT_REPEAT_INTERVAL", DefaultAlertRepeatInterval),
			MaxRepeats:     envInt("ECHO_ALERT_MAX_REPEATS", DefaultAlertMaxRepeats),
		},
		Batch: BatchConfig{
			Window:  envDuration("ECHO_BATCH_WINDOW", DefaultBatchWindow),
			MaxSize: envInt("ECHO_BATCH_MAX_SIZE", DefaultMaxBatchSize),
		},
		Transcript: TranscriptConfig{
			ProjectsPath: envStr("ECHO_PROJECTS_PATH", filepath.Join(home, ".claude", "projects")),
		},
		Remote: RemoteConfig{
			RoomURL:   envStr("ECHO_ROOM_URL", ""),
			RoomToken: envStr("ECHO_ROOM_TOKEN", ""),
		},
		Dispatch: DispatchConfig{
			MethodOverride: envStr("ECHO_DISPATCH_METHOD", ""),
		},
	}

	if !cfg.Server.LogLevel.IsValid() {
		cfg.Server.LogLevel = LogInfo
	}
	return cfg
}

// envStr returns the value of key or def when unset or empty.
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt parses key as an integer, falling back to def on absence or parse
// failure.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// envFloat parses key as a float64, falling back to def.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// envDuration parses key either as a Go duration ("500ms", "30s") or as a
// bare number of seconds ("5", "1.5"), falling back to def.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
