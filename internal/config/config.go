package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the plate/ticket IVR service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	ARIURL            string
	ARIUsername       string
	ARIPassword       string
	ARIApplication    string
	ARIInsecureTLS    bool
	ARIRequestTimeout time.Duration

	MediaDir    string
	MediaPrefix string
	MediaTTL    time.Duration

	RecordFormat      string
	RecordMaxDuration time.Duration
	RecordMaxSilence  time.Duration
	RecordBeep        bool
	RecordIfExists    string
	RecordTerminateOn string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	ReconnectCooldown    time.Duration
	HeartbeatInterval    time.Duration

	SettleDelay       time.Duration
	SafetyMargin      time.Duration
	MaxPlaybackWait   time.Duration
	RetryPad          time.Duration
	MaxRetries        int
	ContinueContext   string
	ContinueExtension string
	ContinuePriority  int
	PromptsFile       string

	SessionExpiry        time.Duration
	SessionSweepInterval time.Duration

	VoiceAPIURL     string
	VoiceAPITimeout time.Duration

	SATURL          string
	SATTimeout      time.Duration
	SATClientID     string
	SATClientSecret string
	SATUsername     string
	SATPassword     string
	SATRealm        string
	SATClientIP     string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ivrsat"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ARIURL:           envOrDefault("ARI_URL", "http://127.0.0.1:8088/ari"),
		ARIUsername:      stringsTrimSpace("ARI_USERNAME"),
		ARIPassword:      os.Getenv("ARI_PASSWORD"),
		ARIApplication:   envOrDefault("ARI_APPLICATION_NAME", "ivrsat"),
		// Must be a directory Asterisk can read as part of its sounds path.
		MediaDir:          envOrDefault("ARI_MEDIA_DIR", "/var/lib/asterisk/sounds/ivrsat"),
		MediaPrefix:       envOrDefault("ARI_MEDIA_PREFIX", "ivrsat"),
		RecordFormat:      envOrDefault("RECORD_FORMAT", "wav"),
		RecordIfExists:    envOrDefault("RECORD_IF_EXISTS", "overwrite"),
		RecordTerminateOn: envOrDefault("RECORD_TERMINATE_ON", "#"),
		ContinueContext:   envOrDefault("IVR_CONTINUE_CONTEXT", "retornoivr"),
		ContinueExtension: envOrDefault("IVR_CONTINUE_EXTENSION", "s"),
		PromptsFile:       stringsTrimSpace("IVR_PROMPTS_FILE"),
		VoiceAPIURL:       stringsTrimSpace("VOICE_API_URL"),
		SATURL:            stringsTrimSpace("SAT_URL"),
		SATClientID:       stringsTrimSpace("SAT_CLIENT_ID"),
		SATClientSecret:   stringsTrimSpace("SAT_CLIENT_SECRET"),
		SATUsername:       stringsTrimSpace("SAT_USERNAME"),
		SATPassword:       os.Getenv("SAT_PASSWORD"),
		SATRealm:          envOrDefault("SAT_REALM", "sat-mobiles"),
		SATClientIP:       stringsTrimSpace("SAT_CLIENT_IP"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		ARIRequestTimeout:    10 * time.Second,
		MediaTTL:             time.Hour,
		RecordMaxDuration:    10 * time.Second,
		RecordMaxSilence:     2 * time.Second,
		RecordBeep:           true,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxAttempts: 5,
		ReconnectCooldown:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		SettleDelay:          time.Second,
		SafetyMargin:         3 * time.Second,
		MaxPlaybackWait:      30 * time.Second,
		RetryPad:             500 * time.Millisecond,
		MaxRetries:           3,
		ContinuePriority:     1,
		SessionExpiry:        10 * time.Minute,
		SessionSweepInterval: time.Minute,
		VoiceAPITimeout:      20 * time.Second,
		SATTimeout:           10 * time.Second,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"ARI_REQUEST_TIMEOUT", &cfg.ARIRequestTimeout},
		{"ARI_MEDIA_TTL", &cfg.MediaTTL},
		{"RECORD_MAX_DURATION", &cfg.RecordMaxDuration},
		{"RECORD_MAX_SILENCE", &cfg.RecordMaxSilence},
		{"RECONNECT_BASE_DELAY", &cfg.ReconnectBaseDelay},
		{"RECONNECT_COOLDOWN", &cfg.ReconnectCooldown},
		{"HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"IVR_SETTLE_DELAY", &cfg.SettleDelay},
		{"IVR_SAFETY_MARGIN", &cfg.SafetyMargin},
		{"IVR_MAX_PLAYBACK_WAIT", &cfg.MaxPlaybackWait},
		{"IVR_RETRY_PAD", &cfg.RetryPad},
		{"SESSION_EXPIRY", &cfg.SessionExpiry},
		{"SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval},
		{"VOICE_API_TIMEOUT", &cfg.VoiceAPITimeout},
		{"SAT_TIMEOUT", &cfg.SATTimeout},
	}
	var err error
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.ReconnectMaxAttempts, err = intFromEnv("RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRetries, err = intFromEnv("IVR_MAX_RETRIES", cfg.MaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ContinuePriority, err = intFromEnv("IVR_CONTINUE_PRIORITY", cfg.ContinuePriority)
	if err != nil {
		return Config{}, err
	}
	cfg.ARIInsecureTLS, err = boolFromEnv("ARI_INSECURE_TLS", false)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordBeep, err = boolFromEnv("RECORD_BEEP", cfg.RecordBeep)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	positive := []struct {
		key string
		v   time.Duration
	}{
		{"ARI_REQUEST_TIMEOUT", c.ARIRequestTimeout},
		{"RECORD_MAX_DURATION", c.RecordMaxDuration},
		{"RECONNECT_BASE_DELAY", c.ReconnectBaseDelay},
		{"RECONNECT_COOLDOWN", c.ReconnectCooldown},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"IVR_MAX_PLAYBACK_WAIT", c.MaxPlaybackWait},
		{"SESSION_EXPIRY", c.SessionExpiry},
		{"SESSION_SWEEP_INTERVAL", c.SessionSweepInterval},
		{"VOICE_API_TIMEOUT", c.VoiceAPITimeout},
		{"SAT_TIMEOUT", c.SATTimeout},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive", p.key)
		}
	}
	if c.SettleDelay < 0 || c.RetryPad < 0 || c.SafetyMargin < 0 || c.RecordMaxSilence < 0 {
		return fmt.Errorf("IVR_SETTLE_DELAY, IVR_RETRY_PAD, IVR_SAFETY_MARGIN and RECORD_MAX_SILENCE must be >= 0")
	}
	if c.SafetyMargin >= c.MaxPlaybackWait {
		return fmt.Errorf("IVR_SAFETY_MARGIN must be lower than IVR_MAX_PLAYBACK_WAIT")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("IVR_MAX_RETRIES must be at least 1")
	}
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}
	if c.ContinuePriority < 1 {
		return fmt.Errorf("IVR_CONTINUE_PRIORITY must be at least 1")
	}
	if strings.TrimSpace(c.ARIApplication) == "" {
		return fmt.Errorf("ARI_APPLICATION_NAME is required")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
