package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/VedanshGovind/FinGuard-AI/internal/challenge"
	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

// Runtime modes.
const (
	ModeEdgeOffline = "EDGE_OFFLINE"
	ModeConnected   = "CONNECTED"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	CodeMatch  CodeMatchConfig  `yaml:"code_match"`
	Fusion     FusionConfig     `yaml:"fusion"`
	Pipelines  PipelinesConfig  `yaml:"pipelines"`
	Challenge  ChallengeConfig  `yaml:"challenge"`
	Redis      RedisConfig      `yaml:"redis"`
	Audit      AuditConfig      `yaml:"audit"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port     string `yaml:"port"`
	GRPCPort string `yaml:"grpc_port"`
	Env      string `yaml:"env"`
}

type RuntimeConfig struct {
	Mode string `yaml:"mode"`
}

type ThresholdsConfig struct {
	Video decision.Thresholds `yaml:"video"`
	Audio decision.Thresholds `yaml:"audio"`
}

type CodeMatchConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type FusionConfig struct {
	RequestDeadlineMs int `yaml:"request_deadline_ms"`
	BranchTimeoutMs   int `yaml:"branch_timeout_ms"`
}

type PipelineEndpoint struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type BreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	MaxRequests      uint32 `yaml:"max_requests"`
	IntervalS        int    `yaml:"interval_s"`
	TimeoutS         int    `yaml:"timeout_s"`
}

type PipelinesConfig struct {
	Video      PipelineEndpoint `yaml:"video"`
	Audio      PipelineEndpoint `yaml:"audio"`
	Transcribe PipelineEndpoint `yaml:"transcribe"`
	Breaker    BreakerConfig    `yaml:"breaker"`
}

type ChallengeConfig struct {
	CodeLength int `yaml:"code_length"`
	TTLS       int `yaml:"ttl_s"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuditConfig struct {
	PostgresDSN    string `yaml:"postgres_dsn"`
	RedisStream    string `yaml:"redis_stream"`
	RedisStreamMax int64  `yaml:"redis_stream_max_len"`
	WebhookURL     string `yaml:"webhook_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	Workers        int    `yaml:"workers"`
	QueueSize      int    `yaml:"queue_size"`
	SinkTimeoutMs  int    `yaml:"sink_timeout_ms"`
	DrainTimeoutMs int    `yaml:"drain_timeout_ms"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", GRPCPort: "9090", Env: "local"},
		Runtime: RuntimeConfig{Mode: ModeEdgeOffline},
		Thresholds: ThresholdsConfig{
			Video: decision.Thresholds{Low: 0.40, High: 0.75},
			Audio: decision.Thresholds{Low: 0.30, High: 0.70},
		},
		CodeMatch: CodeMatchConfig{ConfidenceThreshold: codematch.DefaultThreshold},
		Fusion:    FusionConfig{RequestDeadlineMs: 15000, BranchTimeoutMs: 12000},
		Pipelines: PipelinesConfig{
			Breaker: BreakerConfig{FailureThreshold: 3, MaxRequests: 3, IntervalS: 60, TimeoutS: 30},
		},
		Challenge: ChallengeConfig{CodeLength: challenge.DefaultCodeLength, TTLS: int(challenge.DefaultTTL / time.Second)},
		Audit: AuditConfig{
			RedisStream:    "verification:audit",
			RedisStreamMax: 100000,
			Workers:        4,
			QueueSize:      1000,
			SinkTimeoutMs:  10000,
			DrainTimeoutMs: 5000,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 60, Burst: 20},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PORT":                    &c.Server.Port,
		"GRPC_PORT":               &c.Server.GRPCPort,
		"ENV":                     &c.Server.Env,
		"RUNTIME_MODE":            &c.Runtime.Mode,
		"REDIS_ADDR":              &c.Redis.Addr,
		"REDIS_PASSWORD":          &c.Redis.Password,
		"AUDIT_POSTGRES_DSN":      &c.Audit.PostgresDSN,
		"AUDIT_WEBHOOK_URL":       &c.Audit.WebhookURL,
		"AUDIT_WEBHOOK_SECRET":    &c.Audit.WebhookSecret,
		"VIDEO_PIPELINE_URL":      &c.Pipelines.Video.URL,
		"AUDIO_PIPELINE_URL":      &c.Pipelines.Audio.URL,
		"TRANSCRIBE_PIPELINE_URL": &c.Pipelines.Transcribe.URL,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return &core.ConfigurationError{Field: "redis.db", Reason: fmt.Sprintf("REDIS_DB %q is not an integer", v)}
		}
		c.Redis.DB = db
	}
	return nil
}

// Validate rejects configuration the service cannot start with.
func (c *Config) Validate() error {
	switch c.Runtime.Mode {
	case ModeEdgeOffline, ModeConnected:
	default:
		return &core.ConfigurationError{
			Field:  "runtime.mode",
			Reason: fmt.Sprintf("%q is not one of %s, %s", c.Runtime.Mode, ModeEdgeOffline, ModeConnected),
		}
	}

	if err := c.Thresholds.Video.Validate("thresholds.video"); err != nil {
		return err
	}
	if err := c.Thresholds.Audio.Validate("thresholds.audio"); err != nil {
		return err
	}

	if t := c.CodeMatch.ConfidenceThreshold; math.IsNaN(t) || t <= 0 || t > 1 {
		return &core.ConfigurationError{Field: "code_match.confidence_threshold", Reason: fmt.Sprintf("%v must be in (0, 1]", t)}
	}

	if err := c.FusionSettings().Validate(); err != nil {
		return err
	}

	if c.Challenge.CodeLength < challenge.MinCodeLength || c.Challenge.CodeLength > challenge.MaxCodeLength {
		return &core.ConfigurationError{
			Field:  "challenge.code_length",
			Reason: fmt.Sprintf("%d is outside [%d, %d]", c.Challenge.CodeLength, challenge.MinCodeLength, challenge.MaxCodeLength),
		}
	}
	if c.Challenge.TTLS <= 0 {
		return &core.ConfigurationError{Field: "challenge.ttl_s", Reason: "must be positive"}
	}

	if c.Audit.Workers < 0 || c.Audit.QueueSize < 0 {
		return &core.ConfigurationError{Field: "audit", Reason: "workers and queue_size must not be negative"}
	}

	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return &core.ConfigurationError{Field: "rate_limit", Reason: "values must not be negative"}
	}
	return nil
}

// Offline reports whether the service runs disconnected from central
// infrastructure.
func (c *Config) Offline() bool { return c.Runtime.Mode == ModeEdgeOffline }

func (c *Config) DecisionSettings() decision.Settings {
	return decision.Settings{
		Video:   c.Thresholds.Video,
		Audio:   c.Thresholds.Audio,
		Offline: c.Offline(),
	}
}

func (c *Config) FusionSettings() fusion.Settings {
	return fusion.Settings{
		RequestDeadline: ms(c.Fusion.RequestDeadlineMs),
		BranchTimeout:   ms(c.Fusion.BranchTimeoutMs),
	}
}

func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Workers:      c.Audit.Workers,
		QueueSize:    c.Audit.QueueSize,
		SinkTimeout:  ms(c.Audit.SinkTimeoutMs),
		DrainTimeout: ms(c.Audit.DrainTimeoutMs),
	}
}

// BreakerConfig returns the shared breaker template. Zero values keep the
// circuitbreaker defaults.
func (c *Config) BreakerConfig() *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("")
	b := c.Pipelines.Breaker
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.MaxRequests > 0 {
		cfg.MaxRequests = b.MaxRequests
	}
	if b.IntervalS > 0 {
		cfg.Interval = time.Duration(b.IntervalS) * time.Second
	}
	if b.TimeoutS > 0 {
		cfg.Timeout = time.Duration(b.TimeoutS) * time.Second
	}
	return cfg
}

// PipelineTimeout is the HTTP client timeout for one pipeline. Unset
// endpoints fall back to the branch timeout.
func (c *Config) PipelineTimeout(p PipelineEndpoint) time.Duration {
	if p.TimeoutMs > 0 {
		return ms(p.TimeoutMs)
	}
	return ms(c.Fusion.BranchTimeoutMs)
}

func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.Challenge.TTLS) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
