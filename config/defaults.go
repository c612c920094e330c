package config

import "github.com/spf13/viper"

// SetDefaults applies the default configuration values to a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")
	v.SetDefault("app_name", "sploot-media-clustering")

	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.pool_max_connections", 20)
	v.SetDefault("redis.dial_timeout_seconds", 5)

	v.SetDefault("stream.key", "streams:media.cluster")
	v.SetDefault("stream.dead_letter_stream", "streams:media.cluster.deadletter")
	v.SetDefault("stream.maxlen", 10000)
	v.SetDefault("stream.approximate_trim", true)
	v.SetDefault("stream.consumer_group", "media-clustering-workers")
	v.SetDefault("stream.consumer_name", "media-clustering-worker")
	v.SetDefault("stream.read_timeout_ms", 5000)
	v.SetDefault("stream.read_count", 16)
	v.SetDefault("stream.max_attempts", 5)

	v.SetDefault("cluster.namespace", "sploot.media.clusters")
	v.SetDefault("cluster.state_ttl_seconds", 86400)
	v.SetDefault("cluster.max_cluster_size", 24)
	v.SetDefault("cluster.eps", 0.3)
	v.SetDefault("cluster.identity_eps", 0.15)
	v.SetDefault("cluster.min_samples", 2)

	v.SetDefault("insights.base_url", "http://127.0.0.1:8080")
	v.SetDefault("insights.internal_token", "changeme")
	v.SetDefault("insights.http_timeout_seconds", 10)

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.internal_token", "changeme")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9105)
}
