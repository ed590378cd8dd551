package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/livekit"
)

// Config holds the configuration for the worker.
type Config struct {
	// LiveKit configuration
	LiveKitURL         string
	LiveKitAPIKey      string
	LiveKitAPISecret   string
	AgentName          string
	Namespace          string
	JobType            livekit.JobType
	DrainTimeout       time.Duration
	MaxConcurrentJobs  int
	LogLevel           string
	PProfAddr          string
	LoadUpdateInterval time.Duration

	// Capture configuration
	HostIdentity    string        // participant identity treated as the show host
	HostLabel       string        // label written to the transcript for the host
	TriggerPhrases  []string      // normalized phrases that fire the director flow
	MinTurnDuration time.Duration // turns shorter than this skip transcription
	MaxTurnDuration time.Duration // force-close guard for stuck decode streams
	SilenceTimeout  time.Duration // continuous silence that ends a turn

	// Transcript configuration
	DirectorContextSize int // entries returned to the director consumer
	ClaimAutoThreshold  int // entry length that auto-triggers claim extraction, 0 disables
	SessionLogDir       string

	// Playback configuration
	PlaybackPollInterval time.Duration // re-check cadence while someone is speaking
	SilenceGracePeriod   time.Duration // confirmation wait after silence is first seen

	// External services
	STTURL      string
	STTAPIKey   string
	STTModel    string
	TTSURL      string
	DirectorURL string

	// Dashboard
	DashboardAddr string
}

// Load loads configuration from environment variables and flags.
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.JobType = livekit.JobType_JT_ROOM
	cfg.DrainTimeout = 30 * time.Second
	cfg.MaxConcurrentJobs = 4
	cfg.LogLevel = "info"
	cfg.LoadUpdateInterval = 5 * time.Second
	cfg.HostLabel = "Host"
	cfg.TriggerPhrases = []string{"okay"}
	cfg.MinTurnDuration = 600 * time.Millisecond
	cfg.MaxTurnDuration = 45 * time.Second
	cfg.SilenceTimeout = 500 * time.Millisecond
	cfg.DirectorContextSize = 8
	cfg.ClaimAutoThreshold = 120
	cfg.SessionLogDir = "./sessions"
	cfg.PlaybackPollInterval = 400 * time.Millisecond
	cfg.SilenceGracePeriod = 500 * time.Millisecond
	cfg.STTModel = "whisper-1"
	cfg.DashboardAddr = ":8088"

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.LiveKitURL = getEnv("LIVEKIT_URL", "")
	cfg.LiveKitAPIKey = getEnv("LIVEKIT_API_KEY", "")
	cfg.LiveKitAPISecret = getEnv("LIVEKIT_API_SECRET", "")
	cfg.AgentName = getEnv("DT_AGENT_NAME", "")
	cfg.Namespace = getEnv("DT_NAMESPACE", "")
	cfg.PProfAddr = getEnv("DT_PPROF_ADDR", "")
	cfg.LogLevel = getEnv("DT_LOG_LEVEL", cfg.LogLevel)

	cfg.HostIdentity = getEnv("DT_HOST_IDENTITY", "")
	cfg.HostLabel = getEnv("DT_HOST_LABEL", cfg.HostLabel)
	if phrases := getEnv("DT_TRIGGER_PHRASES", ""); phrases != "" {
		cfg.TriggerPhrases = splitList(phrases)
	}

	cfg.SessionLogDir = getEnv("DT_SESSION_LOG_DIR", cfg.SessionLogDir)
	cfg.STTURL = getEnv("DT_STT_URL", "")
	cfg.STTAPIKey = getEnv("DT_STT_API_KEY", "")
	cfg.STTModel = getEnv("DT_STT_MODEL", cfg.STTModel)
	cfg.TTSURL = getEnv("DT_TTS_URL", "")
	cfg.DirectorURL = getEnv("DT_DIRECTOR_URL", "")
	cfg.DashboardAddr = getEnv("DT_DASHBOARD_ADDR", cfg.DashboardAddr)

	if v := getEnv("DT_DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DrainTimeout = d
		}
	}
	if v := getEnv("DT_MAX_CONCURRENT_JOBS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}
	if v := getEnv("DT_MIN_TURN_DURATION", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MinTurnDuration = d
		}
	}
	if v := getEnv("DT_MAX_TURN_DURATION", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxTurnDuration = d
		}
	}
	if v := getEnv("DT_SILENCE_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SilenceTimeout = d
		}
	}
	if v := getEnv("DT_DIRECTOR_CONTEXT_SIZE", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DirectorContextSize = n
		}
	}
	if v := getEnv("DT_CLAIM_AUTO_THRESHOLD", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ClaimAutoThreshold = n
		}
	}
	if v := getEnv("DT_PLAYBACK_POLL_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PlaybackPollInterval = d
		}
	}
	if v := getEnv("DT_SILENCE_GRACE_PERIOD", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SilenceGracePeriod = d
		}
	}

	// Override with flags
	flag.StringVar(&cfg.LiveKitURL, "url", cfg.LiveKitURL, "LiveKit server URL")
	flag.StringVar(&cfg.LiveKitAPIKey, "api-key", cfg.LiveKitAPIKey, "LiveKit API key")
	flag.StringVar(&cfg.LiveKitAPISecret, "api-secret", cfg.LiveKitAPISecret, "LiveKit API secret")
	flag.StringVar(&cfg.AgentName, "agent-name", cfg.AgentName, "Agent name")
	flag.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.StringVar(&cfg.PProfAddr, "pprof-addr", cfg.PProfAddr, "pprof HTTP server address")
	flag.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "Drain timeout")
	flag.IntVar(&cfg.MaxConcurrentJobs, "max-jobs", cfg.MaxConcurrentJobs, "Maximum concurrent jobs")
	flag.StringVar(&cfg.HostIdentity, "host-identity", cfg.HostIdentity, "Participant identity of the show host")
	flag.StringVar(&cfg.HostLabel, "host-label", cfg.HostLabel, "Transcript label for the host")
	flag.DurationVar(&cfg.MaxTurnDuration, "max-turn-duration", cfg.MaxTurnDuration, "Force-close a turn after this duration")
	flag.StringVar(&cfg.STTURL, "stt-url", cfg.STTURL, "Speech-to-text endpoint URL")
	flag.StringVar(&cfg.TTSURL, "tts-url", cfg.TTSURL, "Text-to-speech endpoint URL")
	flag.StringVar(&cfg.DirectorURL, "director-url", cfg.DirectorURL, "Director suggestion service URL")
	flag.StringVar(&cfg.DashboardAddr, "dashboard-addr", cfg.DashboardAddr, "Dashboard HTTP listen address")
	flag.Parse()

	// Validate required fields
	if cfg.LiveKitURL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKitAPIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}
	if cfg.STTURL == "" {
		return nil, fmt.Errorf("DT_STT_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
