package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Solana    SolanaConfig
	Quote     QuoteConfig
	Evidence  EvidenceConfig
	Signal    SignalConfig
	Density   DensityConfig
	Readiness ReadinessConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
}

type SolanaConfig struct {
	// RPCURLs is the full endpoint rotation, ordered public first.
	RPCURLs []string
	// PrivateRPCURL, when set, is preferred for latency-sensitive probes.
	PrivateRPCURL    string
	RequestTimeout   time.Duration
	SlotPollInterval time.Duration
	// Endpoint exclusion after repeated failures.
	PoolFailureThreshold int
	PoolExclusionBase    time.Duration
}

type QuoteConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	// ProbeAmount is the lamport amount quoted to test tradability.
	ProbeAmount uint64
}

type EvidenceConfig struct {
	Retention time.Duration
	// SignatureTTL bounds the dedup index so replayed notifications
	// stay suppressed well past the sample retention window.
	SignatureTTL time.Duration
	Shards      int
	// DetectorFirst keeps the upstream detector's verdict for a bit
	// when it disagrees with locally derived evidence.
	DetectorFirst bool
	// LegacyAloneEligible lets the legacy-creation bit alone satisfy
	// the minimum-evidence gate.
	LegacyAloneEligible bool
}

type SignalConfig struct {
	WindowSlots      int
	DensityThreshold int
	RequiredBits     int
}

type DensityConfig struct {
	RingSize        int
	StrongThreshold int
}

type ReadinessConfig struct {
	ProbeTTL           time.Duration
	ProbeRetries       int
	ProbeBackoffBase   time.Duration
	FinalReprobeBudget time.Duration
	QuoteReprobeBudget time.Duration
	ScoreThreshold     float64
	LedgerScale        float64
	LegacyBonus        float64
	HistorySize        int
	StateTTL           time.Duration
	SweepInterval      time.Duration
}

type ServerConfig struct {
	HealthPort int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
	SampleRatio  float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Solana: SolanaConfig{
			PrivateRPCURL:        getEnv("SOLANA_PRIVATE_RPC_URL", ""),
			RequestTimeout:       time.Duration(getEnvInt("SOLANA_RPC_TIMEOUT_MS", 2000)) * time.Millisecond,
			SlotPollInterval:     time.Duration(getEnvInt("SLOT_POLL_INTERVAL_MS", 500)) * time.Millisecond,
			PoolFailureThreshold: getEnvInt("RPC_POOL_FAILURE_THRESHOLD", 3),
			PoolExclusionBase:    time.Duration(getEnvInt("RPC_POOL_EXCLUSION_SEC", 60)) * time.Second,
		},
		Quote: QuoteConfig{
			BaseURL:        getEnv("QUOTE_BASE_URL", "https://quote-api.jup.ag/v6"),
			RequestTimeout: time.Duration(getEnvInt("QUOTE_TIMEOUT_MS", 1500)) * time.Millisecond,
			ProbeAmount:    uint64(getEnvInt("QUOTE_PROBE_LAMPORTS", 1000000)),
		},
		Evidence: EvidenceConfig{
			Retention:           time.Duration(getEnvInt("EVIDENCE_RETENTION_SEC", 10)) * time.Second,
			SignatureTTL:        time.Duration(getEnvInt("EVIDENCE_SIGNATURE_TTL_SEC", 300)) * time.Second,
			Shards:              getEnvInt("EVIDENCE_SHARDS", 16),
			DetectorFirst:       getEnvBool("EVIDENCE_DETECTOR_FIRST", true),
			LegacyAloneEligible: getEnvBool("EVIDENCE_LEGACY_ALONE", true),
		},
		Signal: SignalConfig{
			WindowSlots:      getEnvInt("SIGNAL_WINDOW_SLOTS", 5),
			DensityThreshold: getEnvInt("SIGNAL_DENSITY_THRESHOLD", 2),
			RequiredBits:     getEnvInt("SIGNAL_REQUIRED_BITS", 2),
		},
		Density: DensityConfig{
			RingSize:        getEnvInt("DENSITY_RING_SIZE", 6),
			StrongThreshold: getEnvInt("DENSITY_STRONG_THRESHOLD", 2),
		},
		Readiness: ReadinessConfig{
			ProbeTTL:           time.Duration(getEnvInt("PROBE_TTL_SEC", 10)) * time.Second,
			ProbeRetries:       getEnvInt("PROBE_RETRIES", 1),
			ProbeBackoffBase:   time.Duration(getEnvInt("PROBE_BACKOFF_BASE_MS", 10)) * time.Millisecond,
			FinalReprobeBudget: time.Duration(getEnvInt("FINAL_REPROBE_BUDGET_MS", 12)) * time.Millisecond,
			QuoteReprobeBudget: time.Duration(getEnvInt("QUOTE_REPROBE_BUDGET_MS", 18)) * time.Millisecond,
			ScoreThreshold:     getEnvFloat("SCORE_THRESHOLD", 0.80),
			LedgerScale:        getEnvFloat("LEDGER_CONFIDENCE_SCALE", 0.85),
			LegacyBonus:        getEnvFloat("LEGACY_BONUS", 0.12),
			HistorySize:        getEnvInt("READINESS_HISTORY_SIZE", 6),
			StateTTL:           time.Duration(getEnvInt("STATE_TTL_MIN", 10)) * time.Minute,
			SweepInterval:      time.Duration(getEnvInt("STATE_SWEEP_INTERVAL_SEC", 60)) * time.Second,
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "mintready"),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0),
		},
	}

	urls := getEnv("SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com")
	for _, u := range strings.Split(urls, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			cfg.Solana.RPCURLs = append(cfg.Solana.RPCURLs, u)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Solana.RPCURLs) == 0 {
		return fmt.Errorf("SOLANA_RPC_URLS is required")
	}
	if c.Quote.BaseURL == "" {
		return fmt.Errorf("QUOTE_BASE_URL is required")
	}
	if c.Evidence.Shards <= 0 {
		return fmt.Errorf("EVIDENCE_SHARDS must be positive")
	}
	if c.Readiness.ScoreThreshold <= 0 || c.Readiness.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be in (0, 1]")
	}
	if c.Readiness.ProbeRetries < 0 {
		return fmt.Errorf("PROBE_RETRIES must be non-negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
