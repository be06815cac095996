// Package config aggregates process configuration from environment
// variables. A .env file in the working directory is honored when present
// so local development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/karmalabs/karma/convo"
	"github.com/karmalabs/karma/pipeline"
)

// Config aggregates all service settings.
type Config struct {
	Server    ServerConfig
	Providers ProviderConfig
	Pipeline  PipelineConfig
	Store     StoreConfig
	Persona   convo.Persona
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
	// PublicHost is the externally reachable host used in the TwiML
	// media stream URL, e.g. "example.ngrok.app".
	PublicHost string
}

// Speech backends selectable per concern via STT_PROVIDER / TTS_PROVIDER.
const (
	ProviderSarvam   = "sarvam"
	ProviderCartesia = "cartesia"
)

// ProviderConfig holds collaborator credentials and model selection. STT
// and TTS are swappable independently; only the keys for the selected
// backends are required.
type ProviderConfig struct {
	STTProvider      string
	TTSProvider      string
	SarvamAPIKey     string
	SarvamSpeaker    string
	CartesiaAPIKey   string
	CartesiaVoiceID  string
	CartesiaTTSModel string
	OpenRouterAPIKey string
	LLMModel         string
	ClassifierURL    string
}

// PipelineConfig carries per-call tuning shared by every session.
type PipelineConfig struct {
	HistoryTurns             int
	BargeInEnabled           bool
	RecordFullReplyOnBargeIn bool
	MutedSkipGeneration      bool
	EchoCooldown             time.Duration
}

// StoreConfig selects call record persistence.
type StoreConfig struct {
	// RedisAddr enables the Redis store when non-empty; otherwise calls
	// are kept in memory only.
	RedisAddr     string
	RedisPassword string
	RecordTTL     time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	providers, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	pipe, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	storeCfg, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	persona, err := loadPersona()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Providers: providers,
		Pipeline:  pipe,
		Store:     storeCfg,
		Persona:   persona,
	}, nil
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	return ServerConfig{
		Addr:       addr,
		PublicHost: strings.TrimSpace(os.Getenv("PUBLIC_HOST")),
	}, nil
}

func loadProviderConfig() (ProviderConfig, error) {
	sttProvider, err := parseSpeechProvider("STT_PROVIDER")
	if err != nil {
		return ProviderConfig{}, err
	}
	ttsProvider, err := parseSpeechProvider("TTS_PROVIDER")
	if err != nil {
		return ProviderConfig{}, err
	}

	cfg := ProviderConfig{
		STTProvider:      sttProvider,
		TTSProvider:      ttsProvider,
		SarvamAPIKey:     strings.TrimSpace(os.Getenv("SARVAM_API_KEY")),
		SarvamSpeaker:    getEnvOrDefault("SARVAM_SPEAKER", "kavya"),
		CartesiaAPIKey:   strings.TrimSpace(os.Getenv("CARTESIA_API_KEY")),
		CartesiaVoiceID:  strings.TrimSpace(os.Getenv("CARTESIA_VOICE_ID")),
		CartesiaTTSModel: getEnvOrDefault("CARTESIA_TTS_MODEL", "sonic-3"),
		OpenRouterAPIKey: strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		LLMModel:         strings.TrimSpace(os.Getenv("LLM_MODEL")),
		ClassifierURL:    getEnvOrDefault("CLASSIFIER_URL", "http://localhost:8000"),
	}

	if (sttProvider == ProviderSarvam || ttsProvider == ProviderSarvam) && cfg.SarvamAPIKey == "" {
		return ProviderConfig{}, fmt.Errorf("SARVAM_API_KEY is required when a speech provider is %q", ProviderSarvam)
	}
	if (sttProvider == ProviderCartesia || ttsProvider == ProviderCartesia) && cfg.CartesiaAPIKey == "" {
		return ProviderConfig{}, fmt.Errorf("CARTESIA_API_KEY is required when a speech provider is %q", ProviderCartesia)
	}
	if cfg.OpenRouterAPIKey == "" {
		return ProviderConfig{}, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	return cfg, nil
}

// parseSpeechProvider reads a provider selection variable, defaulting to
// Sarvam when unset.
func parseSpeechProvider(key string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return ProviderSarvam, nil
	case ProviderSarvam, ProviderCartesia:
		return value, nil
	default:
		return "", fmt.Errorf("%s must be %q or %q, got %q", key, ProviderSarvam, ProviderCartesia, value)
	}
}

func loadPipelineConfig() (PipelineConfig, error) {
	historyTurns, err := parseIntEnv("HISTORY_TURNS", pipeline.DefaultHistoryTurns)
	if err != nil {
		return PipelineConfig{}, err
	}
	if historyTurns < 1 {
		return PipelineConfig{}, fmt.Errorf("HISTORY_TURNS must be at least 1, got %d", historyTurns)
	}

	bargeIn, err := parseBoolEnv("BARGE_IN_ENABLED", false)
	if err != nil {
		return PipelineConfig{}, err
	}
	recordFull, err := parseBoolEnv("RECORD_FULL_REPLY_ON_BARGE_IN", false)
	if err != nil {
		return PipelineConfig{}, err
	}
	mutedSkip, err := parseBoolEnv("MUTED_SKIP_GENERATION", false)
	if err != nil {
		return PipelineConfig{}, err
	}
	cooldown, err := parseDurationEnv("ECHO_COOLDOWN", pipeline.DefaultEchoCooldown)
	if err != nil {
		return PipelineConfig{}, err
	}

	return PipelineConfig{
		HistoryTurns:             historyTurns,
		BargeInEnabled:           bargeIn,
		RecordFullReplyOnBargeIn: recordFull,
		MutedSkipGeneration:      mutedSkip,
		EchoCooldown:             cooldown,
	}, nil
}

func loadStoreConfig() (StoreConfig, error) {
	ttl, err := parseDurationEnv("RECORD_TTL", 7*24*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RecordTTL:     ttl,
	}, nil
}

// loadPersona reads the persona pack named by PERSONA_FILE, falling back
// to the built-in default persona when unset.
func loadPersona() (convo.Persona, error) {
	path := strings.TrimSpace(os.Getenv("PERSONA_FILE"))
	if path == "" {
		return convo.DefaultPersona(), nil
	}
	persona, err := convo.LoadPersona(path)
	if err != nil {
		return convo.Persona{}, fmt.Errorf("loading PERSONA_FILE: %w", err)
	}
	return persona, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	return v, nil
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	return v, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", key, raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, raw)
	}
	return v, nil
}
