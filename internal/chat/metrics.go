package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	prefixCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_prefix_cache_total",
			Help: "Prefix cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
	generatedTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatd_generated_tokens_total",
			Help: "Tokens produced by the generation loop.",
		},
	)
	generationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatd_generation_seconds",
			Help:    "Wall time of a chat completion while holding the session.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(prefixCacheTotal, generatedTokensTotal, generationSeconds)
}
