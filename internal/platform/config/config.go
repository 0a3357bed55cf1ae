// Package config loads service configuration from the environment so main
// stays lean. Parsing is delegated to caarlos0/env; defaults suit local
// development and must be overridden in production.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for the verification service.
type Config struct {
	Addr     string `env:"BIOGATE_ADDR" envDefault:":8080"`
	LogLevel string `env:"BIOGATE_LOG_LEVEL" envDefault:"info"`

	// MasterKeyHex protects templates at rest. 32 bytes, hex-encoded.
	MasterKeyHex string `env:"BIOGATE_MASTER_KEY" envDefault:"0000000000000000000000000000000000000000000000000000000000000000"`

	// ProofSigningKey signs DID binding proofs. Empty disables proof issuance.
	ProofSigningKey string `env:"BIOGATE_PROOF_SIGNING_KEY"`
	ProofIssuer     string `env:"BIOGATE_PROOF_ISSUER" envDefault:"biogate"`

	// PostgresURL selects the Postgres-backed stores when set.
	PostgresURL string `env:"BIOGATE_POSTGRES_URL"`
	// RedisURL selects the Redis lockout store when set.
	RedisURL string `env:"BIOGATE_REDIS_URL"`
	// BadgerDir selects the embedded Badger stores when set.
	BadgerDir string `env:"BIOGATE_BADGER_DIR"`
	// KafkaBrokers enables the audit mirror when non-empty.
	KafkaBrokers []string `env:"BIOGATE_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"BIOGATE_KAFKA_TOPIC" envDefault:"biogate.audit"`

	StoreTimeout time.Duration `env:"BIOGATE_STORE_TIMEOUT" envDefault:"2s"`

	Lockout LockoutConfig `envPrefix:"BIOGATE_LOCKOUT_"`
	Fusion  FusionConfig  `envPrefix:"BIOGATE_FUSION_"`
	Codec   CodecConfig   `envPrefix:"BIOGATE_CODEC_"`

	// AllowReenroll permits superseding an active template. When false,
	// enrolling an already-enrolled modality fails with a conflict.
	AllowReenroll bool `env:"BIOGATE_ALLOW_REENROLL" envDefault:"true"`
}

// LockoutConfig tunes the per-identity failure tracker.
type LockoutConfig struct {
	MaxFailures   int           `env:"MAX_FAILURES" envDefault:"5"`
	FailureWindow time.Duration `env:"FAILURE_WINDOW" envDefault:"15m"`
	BackoffBase   time.Duration `env:"BACKOFF_BASE" envDefault:"30s"`
	BackoffMax    time.Duration `env:"BACKOFF_MAX" envDefault:"1h"`
}

// FusionConfig tunes the multi-modal decision policy. Weights cover the
// supported modalities; absent modalities are excluded from the weighted
// average rather than scored as zero.
type FusionConfig struct {
	Threshold         float64 `env:"THRESHOLD" envDefault:"0.7"`
	Floor             float64 `env:"FLOOR" envDefault:"0.5"`
	FingerprintWeight float64 `env:"WEIGHT_FINGERPRINT" envDefault:"0.4"`
	FaceWeight        float64 `env:"WEIGHT_FACE" envDefault:"0.3"`
	IrisWeight        float64 `env:"WEIGHT_IRIS" envDefault:"0.2"`
	VoiceWeight       float64 `env:"WEIGHT_VOICE" envDefault:"0.1"`
}

// CodecConfig fixes the expected feature-vector dimensionality per modality.
type CodecConfig struct {
	FingerprintDims int `env:"DIMS_FINGERPRINT" envDefault:"128"`
	FaceDims        int `env:"DIMS_FACE" envDefault:"256"`
	IrisDims        int `env:"DIMS_IRIS" envDefault:"512"`
	VoiceDims       int `env:"DIMS_VOICE" envDefault:"192"`
	// CodeBits is the width of the protected bit code per template.
	CodeBits int `env:"CODE_BITS" envDefault:"256"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
