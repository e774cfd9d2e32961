package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitles",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtitles",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitles",
		Name:      "provider_requests_total",
		Help:      "Total requests to subtitle providers by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtitles",
		Name:      "provider_request_duration_seconds",
		Help:      "Subtitle provider search duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "subtitles",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	ProviderDeadlineMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitles",
		Name:      "provider_deadline_misses_total",
		Help:      "Searches in which a provider had not answered when the aggregate deadline expired.",
	}, []string{"provider"})

	SearchCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "subtitles",
		Name:      "search_candidates",
		Help:      "Number of merged candidates returned per search.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
	})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "subtitles",
		Name:      "search_duration_seconds",
		Help:      "Aggregate search duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 29, 60, 180},
	})

	ConversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtitles",
		Name:      "conversions_total",
		Help:      "Subtitle normalizations by matching parser and result.",
	}, []string{"parser", "result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		ProviderDeadlineMisses,
		SearchCandidates,
		SearchDuration,
		ConversionsTotal,
	)
}
