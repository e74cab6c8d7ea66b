// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicURL is the externally reachable base URL the telephony
	// provider calls back to. Required.
	PublicURL string

	// Telephony provider credentials.
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// DatabaseURL is the Postgres DSN. Required.
	DatabaseURL string

	// Session store tuning.
	SyncThreshold       int           // partial sync every N turns
	NoInputLimit        int           // consecutive failed inputs before timeout
	GoodbyeVocabulary   []string      // empty => built-in vocabulary
	ConfidenceThreshold float64       // speech confidence gate
	PastCallLimit       int           // prior calls loaded per session
	AgentCacheTTL       time.Duration // agent directory cache expiry
	MaxCallDuration     time.Duration // orphan-session eviction age
	SweepInterval       time.Duration
	FinalizeTimeout     time.Duration // bound on finalize's durable write
	SyncTimeout         time.Duration // bound on one partial sync's write

	// Recording archival.
	S3Enabled bool
	S3Bucket  string
	S3Prefix  string
	AWSRegion string

	// Conversation backend.
	GeminiAPIKey string
	GeminiModel  string

	// Local speech synthesis; disabled when TTSEnabled is false.
	TTSEnabled      bool
	TTSServerURL    string
	TTSOutputDir    string
	TTSCleanupDelay time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEGATE_ADDR", ":8000"),
		PublicURL:           strings.TrimRight(envOr("VOICEGATE_PUBLIC_URL", ""), "/"),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:   envOr("TWILIO_PHONE_NUMBER", ""),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		SyncThreshold:       envIntOr("VOICEGATE_SYNC_THRESHOLD", 5),
		NoInputLimit:        envIntOr("VOICEGATE_NO_INPUT_LIMIT", 3),
		GoodbyeVocabulary:   splitCSV(os.Getenv("VOICEGATE_GOODBYE_VOCABULARY")),
		ConfidenceThreshold: envFloat64Or("VOICEGATE_CONFIDENCE_THRESHOLD", 0.6),
		PastCallLimit:       envIntOr("VOICEGATE_PAST_CALL_LIMIT", 5),
		AgentCacheTTL:       envDurationOr("VOICEGATE_AGENT_CACHE_TTL", 300*time.Second),
		MaxCallDuration:     envDurationOr("VOICEGATE_MAX_CALL_DURATION", time.Hour),
		SweepInterval:       envDurationOr("VOICEGATE_SWEEP_INTERVAL", time.Minute),
		FinalizeTimeout:     envDurationOr("VOICEGATE_FINALIZE_TIMEOUT", 30*time.Second),
		SyncTimeout:         envDurationOr("VOICEGATE_SYNC_TIMEOUT", 10*time.Second),
		S3Enabled:           envBoolOr("VOICEGATE_S3_ENABLED", true),
		S3Bucket:            envOr("VOICEGATE_S3_BUCKET", "voice-assistant-recordings"),
		S3Prefix:            envOr("VOICEGATE_S3_PREFIX", "recordings/"),
		AWSRegion:           envOr("AWS_REGION", "us-east-1"),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("VOICEGATE_GEMINI_MODEL", ""),
		TTSEnabled:          envBoolOr("VOICEGATE_TTS_ENABLED", false),
		TTSServerURL:        envOr("VOICEGATE_TTS_URL", "http://localhost:5002"),
		TTSOutputDir:        envOr("VOICEGATE_TTS_OUTPUT_DIR", "./tts_output"),
		TTSCleanupDelay:     envDurationOr("VOICEGATE_TTS_CLEANUP_DELAY", 300*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOICEGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICEGATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.PublicURL == "" {
		return Config{}, fmt.Errorf("VOICEGATE_PUBLIC_URL must be set")
	}
	if cfg.TwilioAccountSID == "" {
		return Config{}, fmt.Errorf("TWILIO_ACCOUNT_SID must be set")
	}
	if cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN must be set")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.SyncThreshold <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SYNC_THRESHOLD must be > 0")
	}
	if cfg.NoInputLimit <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_NO_INPUT_LIMIT must be > 0")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("VOICEGATE_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if cfg.PastCallLimit <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_PAST_CALL_LIMIT must be > 0")
	}
	if cfg.AgentCacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_AGENT_CACHE_TTL must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.FinalizeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_FINALIZE_TIMEOUT must be > 0")
	}
	if cfg.SyncTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SYNC_TIMEOUT must be > 0")
	}
	if cfg.S3Enabled && cfg.S3Bucket == "" {
		return Config{}, fmt.Errorf("VOICEGATE_S3_BUCKET must be set when VOICEGATE_S3_ENABLED=true")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
