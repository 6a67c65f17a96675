package model

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config is the complete runtime configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Aggregator   AggregatorConfig   `yaml:"aggregator" mapstructure:"aggregator"`
	Extraction   ExtractionConfig   `yaml:"extraction" mapstructure:"extraction"`
	Search       SearchConfig       `yaml:"search" mapstructure:"search"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Broadcast    BroadcastConfig    `yaml:"broadcast" mapstructure:"broadcast"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Workers      WorkersConfig      `yaml:"workers" mapstructure:"workers"`
	RateLimiting RateLimitConfig    `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	NATS         NATSConfig         `yaml:"nats" mapstructure:"nats"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig controls the HTTP and WebSocket listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"` // Empty allows any origin
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
}

// AggregatorConfig controls sentence boundary detection
type AggregatorConfig struct {
	MinWords      int           `yaml:"min_words" mapstructure:"min_words"`           // Sentence must contain more words than this
	MaxChars      int           `yaml:"max_chars" mapstructure:"max_chars"`           // Run-on force flush by length
	MaxAge        time.Duration `yaml:"max_age" mapstructure:"max_age"`               // Run-on force flush by age
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"` // How often stale buffers are checked
	DedupeTTL     time.Duration `yaml:"dedupe_ttl" mapstructure:"dedupe_ttl"`         // 0 disables duplicate final fragment suppression
}

// ExtractionConfig controls the claim extraction adapter
type ExtractionConfig struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Model     string        `yaml:"model" mapstructure:"model"` // Overrides llm.model for extraction
	MaxClaims int           `yaml:"max_claims" mapstructure:"max_claims"`
}

// SearchConfig controls the evidence search provider
type SearchConfig struct {
	Provider       string        `yaml:"provider" mapstructure:"provider"` // "exa" or "brave"
	APIKey         string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	NumResults     int           `yaml:"num_results" mapstructure:"num_results"`
	MaxCharacters  int           `yaml:"max_characters" mapstructure:"max_characters"`
	AllowedDomains []string      `yaml:"allowed_domains" mapstructure:"allowed_domains"`
}

// VerificationConfig controls the claim verifier
type VerificationConfig struct {
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout"`
	InFlightPolicy string        `yaml:"in_flight_policy" mapstructure:"in_flight_policy"` // "wait" or "skip"
	Model          string        `yaml:"model" mapstructure:"model"`                       // Overrides llm.model for verification
	StrictEvidence bool          `yaml:"strict_evidence" mapstructure:"strict_evidence"`
}

// CacheConfig bounds the verdict cache
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// BroadcastConfig controls per-viewer delivery
type BroadcastConfig struct {
	QueueSize      int           `yaml:"queue_size" mapstructure:"queue_size"`
	OverflowPolicy string        `yaml:"overflow_policy" mapstructure:"overflow_policy"` // "drop_oldest" or "drop_newest"
	MaxSendRetries int           `yaml:"max_send_retries" mapstructure:"max_send_retries"`
	SendTimeout    time.Duration `yaml:"send_timeout" mapstructure:"send_timeout"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // "openai", "groq", "anthropic", "ollama"
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	HTTPProxy   string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// WorkersConfig sizes the sentence worker pool
type WorkersConfig struct {
	Size      int `yaml:"size" mapstructure:"size"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// RateLimitConfig throttles calls to each external service
type RateLimitConfig struct {
	RequestsPerSecond float64                      `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int                          `yaml:"burst_size" mapstructure:"burst_size"`
	Services          map[string]ServiceRateConfig `yaml:"services,omitempty" mapstructure:"services"` // Overrides keyed by "search" or "verification"
}

// ServiceRateConfig overrides the default rate for one collaborator
type ServiceRateConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// NATSConfig configures the speech-to-text bus subscription
type NATSConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	URL            string `yaml:"url" mapstructure:"url"`
	Name           string `yaml:"name" mapstructure:"name"`
	PartialSubject string `yaml:"partial_subject" mapstructure:"partial_subject"`
	FinalSubject   string `yaml:"final_subject" mapstructure:"final_subject"`
	EndSubject     string `yaml:"end_subject" mapstructure:"end_subject"` // Speech session ended
	Cumulative     bool   `yaml:"cumulative" mapstructure:"cumulative"`   // Each transcript repeats the utterance so far
	BufferSize     int    `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" or "json"
}

// TelemetryConfig configures metrics and tracing
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" mapstructure:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" mapstructure:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout" mapstructure:"trace_stdout"`
}

// Verification in-flight policies
const (
	InFlightWait = "wait"
	InFlightSkip = "skip"
)

// Broadcast overflow policies
const (
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// DefaultAllowedDomains are the trusted evidence sources used when none are configured
var DefaultAllowedDomains = []string{
	"docs.python.org",
	"kubernetes.io",
	"owasp.org",
	"nist.gov",
	"postgresql.org",
	"eur-lex.europa.eu",
	"gdpr-info.eu",
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8765",
			ShutdownTimeout: 10 * time.Second,
			PingInterval:    30 * time.Second,
		},
		Aggregator: AggregatorConfig{
			MinWords:      6,
			MaxChars:      500,
			MaxAge:        6 * time.Second,
			FlushInterval: time.Second,
			DedupeTTL:     30 * time.Second,
		},
		Extraction: ExtractionConfig{
			Timeout:   2 * time.Second,
			Model:     "llama-3.3-70b-versatile",
			MaxClaims: 5,
		},
		Search: SearchConfig{
			Provider:       "exa",
			Timeout:        time.Second,
			NumResults:     2,
			MaxCharacters:  2000,
			AllowedDomains: append([]string(nil), DefaultAllowedDomains...),
		},
		Verification: VerificationConfig{
			Timeout:        time.Second,
			WaitTimeout:    5 * time.Second,
			InFlightPolicy: InFlightWait,
			Model:          "llama-3.1-8b-instant",
			StrictEvidence: true, // Always enforce
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Broadcast: BroadcastConfig{
			QueueSize:      64,
			OverflowPolicy: DropOldest,
			MaxSendRetries: 3,
			SendTimeout:    2 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "groq",
			Timeout:     5 * time.Second,
			MaxTokens:   500,
			Temperature: 0.1,
		},
		Workers: WorkersConfig{
			Size:      runtime.NumCPU() * 2,
			QueueSize: 128,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         5,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			Name:           "uhmm",
			PartialSubject: "stt.text.partial",
			FinalSubject:   "stt.text.final",
			EndSubject:     "stt.session.end",
			Cumulative:     true,
			BufferSize:     1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "uhmm",
			MetricsEnabled: true,
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Aggregator.MinWords < 0 {
		errs = append(errs, errors.New("aggregator.min_words must be >= 0"))
	}
	if c.Aggregator.MaxChars <= 0 {
		errs = append(errs, errors.New("aggregator.max_chars must be > 0"))
	}
	if c.Aggregator.MaxAge <= 0 {
		errs = append(errs, errors.New("aggregator.max_age must be > 0"))
	}
	if c.Aggregator.FlushInterval <= 0 {
		errs = append(errs, errors.New("aggregator.flush_interval must be > 0"))
	}
	if c.Extraction.Timeout <= 0 {
		errs = append(errs, errors.New("extraction.timeout must be > 0"))
	}
	if c.Search.Timeout <= 0 {
		errs = append(errs, errors.New("search.timeout must be > 0"))
	}
	switch strings.ToLower(c.Search.Provider) {
	case "exa", "brave":
	default:
		errs = append(errs, fmt.Errorf("unknown search provider: %s (supported: exa, brave)", c.Search.Provider))
	}
	if c.Verification.Timeout <= 0 {
		errs = append(errs, errors.New("verification.timeout must be > 0"))
	}
	switch c.Verification.InFlightPolicy {
	case InFlightWait, InFlightSkip:
	default:
		errs = append(errs, fmt.Errorf("verification.in_flight_policy must be %q or %q", InFlightWait, InFlightSkip))
	}
	if c.Verification.InFlightPolicy == InFlightWait && c.Verification.WaitTimeout <= 0 {
		errs = append(errs, errors.New("verification.wait_timeout must be > 0 with the wait policy"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be > 0"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be > 0"))
	}
	if c.Broadcast.QueueSize <= 0 {
		errs = append(errs, errors.New("broadcast.queue_size must be > 0"))
	}
	switch c.Broadcast.OverflowPolicy {
	case DropOldest, DropNewest:
	default:
		errs = append(errs, fmt.Errorf("broadcast.overflow_policy must be %q or %q", DropOldest, DropNewest))
	}
	if c.Broadcast.MaxSendRetries < 0 {
		errs = append(errs, errors.New("broadcast.max_send_retries must be >= 0"))
	}
	for name, r := range c.RateLimiting.Services {
		if r.RequestsPerSecond < 0 || r.BurstSize < 0 {
			errs = append(errs, fmt.Errorf("rate_limiting.services.%s must not be negative", name))
		}
	}
	if c.Workers.Size <= 0 {
		errs = append(errs, errors.New("workers.size must be > 0"))
	}
	if c.NATS.BufferSize < 0 {
		errs = append(errs, errors.New("nats.buffer_size must be >= 0"))
	}
	if c.NATS.Enabled && strings.TrimSpace(c.NATS.URL) == "" {
		errs = append(errs, errors.New("nats.url must be set when nats is enabled"))
	}

	return errors.Join(errs...)
}
