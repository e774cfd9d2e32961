package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"subtitlehub/searchservice/internal/domain"
	"subtitlehub/searchservice/internal/metrics"
)

const (
	providerFailureThreshold = 3
	providerBlockBase        = 2 * time.Minute
	providerBlockMax         = 15 * time.Minute
)

type providerHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
	deadlineMisses      int64
}

// healthTracker is the only state shared between searches. It drives the
// per-provider circuit breaker and the diagnostics endpoint.
type healthTracker struct {
	mu    sync.Mutex
	state map[string]*providerHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{state: make(map[string]*providerHealth)}
}

func (h *healthTracker) isBlocked(key string, now time.Time) (bool, time.Time, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state[key]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (h *healthTracker) entry(key string) *providerHealth {
	state := h.state[key]
	if state == nil {
		state = &providerHealth{}
		h.state[key] = state
	}
	return state
}

func (h *healthTracker) recordDeadlineMiss(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entry(key).deadlineMisses++
}

func (h *healthTracker) recordResult(key, query string, err error, latency time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.entry(key)
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}

	// A search cancelled by the caller says nothing about the provider.
	if errors.Is(err, context.Canceled) {
		metrics.ProviderRequestsTotal.WithLabelValues(key, "cancelled").Inc()
		return
	}

	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.ProviderRequestsTotal.WithLabelValues(key, "ok").Inc()
		metrics.ProviderAvailable.WithLabelValues(key).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(key, status).Inc()

	if state.consecutiveFailures >= providerFailureThreshold {
		state.blockedUntil = now.Add(exponentialBlockDuration(state.consecutiveFailures))
		metrics.ProviderAvailable.WithLabelValues(key).Set(0)
	}
}

// exponentialBlockDuration calculates how long to block a provider based on
// consecutive failures: baseDuration × 2^(failures - threshold), capped at 15min.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - providerFailureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := providerBlockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > providerBlockMax {
			return providerBlockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// ProviderDiagnostics reports the health of every registered provider in
// registration order.
func (s *Service) ProviderDiagnostics() []domain.ProviderDiagnostics {
	providers := s.registry.Providers()
	if len(providers) == 0 {
		return nil
	}

	s.health.mu.Lock()
	defer s.health.mu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(providers))
	for _, provider := range providers {
		info := providerInfo(provider)
		item := domain.ProviderDiagnostics{
			Name:    info.Name,
			Label:   info.Label,
			Kind:    info.Kind,
			Enabled: info.Enabled,
		}
		if state := s.health.state[info.Name]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
			item.DeadlineMisses = state.deadlineMisses
		}
		items = append(items, item)
	}
	return items
}
