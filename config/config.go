package config

import "time"

// Settings represents the full service configuration.
type Settings struct {
	Environment string `mapstructure:"environment"` // local, development, staging, production
	AppName     string `mapstructure:"app_name"`

	Redis    RedisConfig    `mapstructure:"redis"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Insights InsightsConfig `mapstructure:"insights"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// RedisConfig configures the shared redis connection pool.
type RedisConfig struct {
	URL                string `mapstructure:"url"`      // e.g. redis://127.0.0.1:6379/0
	Username           string `mapstructure:"username"` // optional ACL user
	Password           string `mapstructure:"password"`
	PoolMaxConnections int    `mapstructure:"pool_max_connections"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds"`
}

// StreamConfig configures the job stream and its consumer group.
type StreamConfig struct {
	Key              string `mapstructure:"key"`                // main job stream
	DeadLetterStream string `mapstructure:"dead_letter_stream"` // terminal failures
	MaxLen           int64  `mapstructure:"maxlen"`             // length bound applied on every publish
	ApproximateTrim  bool   `mapstructure:"approximate_trim"`
	ConsumerGroup    string `mapstructure:"consumer_group"`
	ConsumerName     string `mapstructure:"consumer_name"`
	ReadTimeoutMs    int    `mapstructure:"read_timeout_ms"` // XREADGROUP block duration
	ReadCount        int64  `mapstructure:"read_count"`      // entries per read
	MaxAttempts      int    `mapstructure:"max_attempts"`    // retry budget before dead-letter
}

// ClusterConfig configures per-subject cluster state and the engine.
type ClusterConfig struct {
	Namespace      string  `mapstructure:"namespace"`         // state key prefix
	StateTTLSecond int     `mapstructure:"state_ttl_seconds"` // TTL on persisted state
	MaxClusterSize int     `mapstructure:"max_cluster_size"`
	Eps            float64 `mapstructure:"eps"`          // cosine-distance radius, pose mode
	IdentityEps    float64 `mapstructure:"identity_eps"` // tighter radius, identity mode; 0 = eps/2
	MinSamples     int     `mapstructure:"min_samples"`
}

// InsightsConfig configures the external insights service client.
type InsightsConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	InternalToken      string `mapstructure:"internal_token"` // bearer token
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
}

// ServerConfig configures the submission front door.
type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	InternalToken string `mapstructure:"internal_token"` // X-Internal-Token shared secret
}

// MetricsConfig configures the worker's prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ReadTimeout returns the stream read block duration.
func (s StreamConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// StateTTL returns the cluster state TTL as a duration.
func (c ClusterConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLSecond) * time.Second
}

// HTTPTimeout returns the total per-request timeout for insights calls.
func (i InsightsConfig) HTTPTimeout() time.Duration {
	return time.Duration(i.HTTPTimeoutSeconds) * time.Second
}

// EffectiveIdentityEps returns the identity-mode radius, defaulting to
// half the general radius when unset.
func (c ClusterConfig) EffectiveIdentityEps() float64 {
	if c.IdentityEps > 0 {
		return c.IdentityEps
	}
	return c.Eps * 0.5
}
