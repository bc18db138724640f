package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for M21.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string

	EmbeddingEndpoint string
	IndexEndpoint     string

	InAppGatewayURL string
	EmailGatewayURL string
	SMSGatewayURL   string
	GatewayTimeout  time.Duration

	SimilarityThreshold float64
	Weights             domain.RankingWeights
	MaxInvites          int
	MaxAttempts         int
	ResponseWindow      time.Duration
	IndexRetryBudget    int
	IndexRetryBackoff   time.Duration

	LeaseTTL          time.Duration
	LeaseRetryBudget  int
	LeaseRetryBackoff time.Duration
	IdempotencyTTL    time.Duration
	EventDedupTTL     time.Duration

	MaxDBConns          int32
	PollInterval        time.Duration
	DispatchBatchSize   int
	DispatchClaimTTL    time.Duration
	DispatchConcurrency int
	SweepInterval       time.Duration
	SweepBatchSize      int
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxClaimTTL      time.Duration
	OutboxMaxRetries    int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL       string `yaml:"postgres_url"`
		RedisURL          string `yaml:"redis_url"`
		EmbeddingEndpoint string `yaml:"embedding_endpoint"`
		IndexEndpoint     string `yaml:"index_endpoint"`
	} `yaml:"dependencies"`
	Channels struct {
		InAppGatewayURL string `yaml:"in_app_gateway_url"`
		EmailGatewayURL string `yaml:"email_gateway_url"`
		SMSGatewayURL   string `yaml:"sms_gateway_url"`
	} `yaml:"channels"`
	Matching struct {
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		MaxInvites          int     `yaml:"max_invites"`
		Weights             struct {
			Similarity     float64 `yaml:"similarity"`
			Rating         float64 `yaml:"rating"`
			Verification   float64 `yaml:"verification"`
			Responsiveness float64 `yaml:"responsiveness"`
		} `yaml:"weights"`
	} `yaml:"matching"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:           "M21-Contractor-Matching-Engine",
		HTTPPort:            8080,
		GRPCPort:            9090,
		GatewayTimeout:      8 * time.Second,
		SimilarityThreshold: 0.7,
		Weights:             domain.DefaultRankingWeights(),
		MaxInvites:          10,
		MaxAttempts:         5,
		ResponseWindow:      72 * time.Hour,
		IndexRetryBudget:    3,
		IndexRetryBackoff:   500 * time.Millisecond,
		LeaseTTL:            15 * time.Second,
		LeaseRetryBudget:    3,
		LeaseRetryBackoff:   50 * time.Millisecond,
		IdempotencyTTL:      7 * 24 * time.Hour,
		EventDedupTTL:       7 * 24 * time.Hour,
		MaxDBConns:          20,
		PollInterval:        time.Second,
		DispatchBatchSize:   50,
		DispatchClaimTTL:    30 * time.Second,
		DispatchConcurrency: 4,
		SweepInterval:       time.Minute,
		SweepBatchSize:      200,
		OutboxPollInterval:  2 * time.Second,
		OutboxBatchSize:     100,
		OutboxClaimTTL:      30 * time.Second,
		OutboxMaxRetries:    5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Dependencies.EmbeddingEndpoint != "" {
			cfg.EmbeddingEndpoint = f.Dependencies.EmbeddingEndpoint
		}
		if f.Dependencies.IndexEndpoint != "" {
			cfg.IndexEndpoint = f.Dependencies.IndexEndpoint
		}
		if f.Channels.InAppGatewayURL != "" {
			cfg.InAppGatewayURL = f.Channels.InAppGatewayURL
		}
		if f.Channels.EmailGatewayURL != "" {
			cfg.EmailGatewayURL = f.Channels.EmailGatewayURL
		}
		if f.Channels.SMSGatewayURL != "" {
			cfg.SMSGatewayURL = f.Channels.SMSGatewayURL
		}
		if f.Matching.SimilarityThreshold > 0 {
			cfg.SimilarityThreshold = f.Matching.SimilarityThreshold
		}
		if f.Matching.MaxInvites > 0 {
			cfg.MaxInvites = f.Matching.MaxInvites
		}
		if f.Matching.Weights.Similarity > 0 {
			cfg.Weights = domain.RankingWeights{
				Similarity:     f.Matching.Weights.Similarity,
				Rating:         f.Matching.Weights.Rating,
				Verification:   f.Matching.Weights.Verification,
				Responsiveness: f.Matching.Weights.Responsiveness,
			}
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.EmbeddingEndpoint = envOrDefault("EMBEDDING_ENDPOINT", cfg.EmbeddingEndpoint)
	cfg.IndexEndpoint = envOrDefault("CANDIDATE_INDEX_ENDPOINT", cfg.IndexEndpoint)
	cfg.InAppGatewayURL = envOrDefault("IN_APP_GATEWAY_URL", cfg.InAppGatewayURL)
	cfg.EmailGatewayURL = envOrDefault("EMAIL_GATEWAY_URL", cfg.EmailGatewayURL)
	cfg.SMSGatewayURL = envOrDefault("SMS_GATEWAY_URL", cfg.SMSGatewayURL)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))

	cfg.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.MaxInvites = envInt("MAX_INVITES", cfg.MaxInvites)
	cfg.MaxAttempts = envInt("MAX_DISPATCH_ATTEMPTS", cfg.MaxAttempts)
	cfg.ResponseWindow = time.Duration(envInt("RESPONSE_WINDOW_HOURS", int(cfg.ResponseWindow.Hours()))) * time.Hour
	cfg.IndexRetryBudget = envInt("INDEX_RETRY_BUDGET", cfg.IndexRetryBudget)
	cfg.LeaseTTL = time.Duration(envInt("LEASE_TTL_SECONDS", int(cfg.LeaseTTL.Seconds()))) * time.Second
	cfg.GatewayTimeout = time.Duration(envInt("GATEWAY_TIMEOUT_SECONDS", int(cfg.GatewayTimeout.Seconds()))) * time.Second

	cfg.PollInterval = time.Duration(envInt("DISPATCH_POLL_MILLIS", int(cfg.PollInterval.Milliseconds()))) * time.Millisecond
	cfg.DispatchBatchSize = envInt("DISPATCH_BATCH_SIZE", cfg.DispatchBatchSize)
	cfg.DispatchConcurrency = envInt("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency)
	cfg.SweepInterval = time.Duration(envInt("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if err := cfg.Weights.Validate(); err != nil {
		return Config{}, fmt.Errorf("ranking weights: %w", err)
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envFloat parses float env vars with safe fallback on empty/invalid values.
func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
