package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"subtitlehub/searchservice/internal/domain"
	"subtitlehub/searchservice/internal/metrics"
)

const (
	// DefaultDeadline fits inside the 30s request timeout of the most
	// restrictive host.
	DefaultDeadline = 29 * time.Second

	// maxConcurrentProviders limits the number of provider queries that can run simultaneously.
	maxConcurrentProviders = 10

	// minWaitSlice is how long a provider is still waited for once the
	// deadline budget is spent, so finished tasks are always collected.
	minWaitSlice = time.Millisecond
)

var tracer = otel.Tracer("subtitlehub/searchservice/internal/search")

type providerOutcome struct {
	items   []domain.Candidate
	err     error
	elapsed time.Duration
}

type providerTask struct {
	key    string
	label  string
	done   chan providerOutcome
	cancel context.CancelFunc
}

type waitResult int

const (
	waitCompleted waitResult = iota
	waitDeadline
	waitCancelled
)

// Search fans the request out to every provider supporting its content type
// and returns whatever arrived within the deadline, merged and ranked. An
// unset content type searches for movies.
// It never fails; provider errors and timeouts show up in Providers only.
func (s *Service) Search(ctx context.Context, request domain.SearchRequest) domain.SearchResponse {
	request.ContentType = domain.NormalizeContentType(string(request.ContentType))
	return s.execute(ctx, request, s.registry.Eligible(request.ContentType))
}

// SearchProviders is Search restricted to the named providers.
func (s *Service) SearchProviders(ctx context.Context, request domain.SearchRequest, names []string) (domain.SearchResponse, error) {
	if len(names) == 0 {
		return s.Search(ctx, request), nil
	}
	wanted := make(map[Provider]struct{}, len(names))
	for _, name := range names {
		provider, ok := s.registry.Lookup(name)
		if !ok {
			return domain.SearchResponse{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		wanted[provider] = struct{}{}
	}
	request.ContentType = domain.NormalizeContentType(string(request.ContentType))
	eligible := s.registry.Eligible(request.ContentType)
	selected := slices.DeleteFunc(eligible, func(p Provider) bool {
		_, ok := wanted[p]
		return !ok
	})
	return s.execute(ctx, request, selected), nil
}

func (s *Service) execute(ctx context.Context, request domain.SearchRequest, selected []Provider) domain.SearchResponse {
	ctx, span := tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("subtitle.title", request.Title),
		attribute.String("subtitle.language", request.Language),
		attribute.String("subtitle.contentType", string(request.ContentType)),
		attribute.Int("subtitle.providers", len(selected)),
	))
	defer span.End()

	startedAt := time.Now()
	s.logger.Info("subtitle search started",
		slog.String("title", request.Title),
		slog.String("language", request.Language),
		slog.String("contentType", string(request.ContentType)),
		slog.Int("providers", len(selected)),
		slog.Duration("deadline", s.deadline),
	)

	statuses := make([]domain.ProviderStatus, len(selected))
	tasks := make([]*providerTask, len(selected))
	sem := semaphore.NewWeighted(s.maxConcurrent)
	for i, provider := range selected {
		key := providerKey(provider)
		statuses[i] = domain.ProviderStatus{Name: key}
		if blocked, until, lastErr := s.health.isBlocked(key, startedAt); blocked {
			s.logger.Warn("provider skipped: temporarily unhealthy",
				slog.String("provider", key),
				slog.String("until", until.UTC().Format(time.RFC3339)),
				slog.String("lastError", lastErr),
			)
			statuses[i].Skipped = true
			statuses[i].Error = fmt.Sprintf("provider temporarily unhealthy until %s: %s", until.UTC().Format(time.RFC3339), lastErr)
			continue
		}
		tasks[i] = s.startProviderTask(ctx, sem, provider, request)
	}

	merger := NewMerger()
	for i, task := range tasks {
		if task == nil {
			continue
		}
		remaining := s.deadline - time.Since(startedAt)
		if remaining < minWaitSlice {
			remaining = minWaitSlice
		}

		outcome, result := awaitTask(ctx, task.done, remaining)
		switch result {
		case waitDeadline:
			s.logger.Info("provider response ignored: not completed in time",
				slog.String("provider", task.key),
				slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
			)
			metrics.ProviderDeadlineMisses.WithLabelValues(task.key).Inc()
			s.health.recordDeadlineMiss(task.key)
			statuses[i].TimedOut = true
			statuses[i].Error = "deadline exceeded"
			if s.cancelOnDeadline {
				task.cancel()
			}
			continue
		case waitCancelled:
			s.logger.Info("provider response ignored: search cancelled",
				slog.String("provider", task.key),
				slog.String("error", context.Cause(ctx).Error()),
			)
			statuses[i].Error = "search cancelled"
			continue
		}

		task.cancel()
		statuses[i].ElapsedMS = outcome.elapsed.Milliseconds()
		if outcome.err != nil {
			s.logger.Warn("provider search failed",
				slog.String("provider", task.key),
				slog.String("title", request.Title),
				slog.Int64("elapsedMs", outcome.elapsed.Milliseconds()),
				slog.String("error", outcome.err.Error()),
			)
			statuses[i].Error = outcome.err.Error()
			continue
		}

		for _, item := range outcome.items {
			merger.AddKeyed(s.annotator.Annotate(task.key, task.label, item), EquivalenceKey(item))
		}
		statuses[i].OK = true
		statuses[i].Count = len(outcome.items)
		s.logger.Debug("provider search completed",
			slog.String("provider", task.key),
			slog.Int("results", len(outcome.items)),
			slog.Int64("elapsedMs", outcome.elapsed.Milliseconds()),
		)
	}

	items := rankCandidates(merger.Items(), request)
	elapsed := time.Since(startedAt)
	metrics.SearchCandidates.Observe(float64(len(items)))
	metrics.SearchDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("subtitle.results", len(items)))

	s.logger.Info("subtitle search completed",
		slog.String("title", request.Title),
		slog.String("language", request.Language),
		slog.Float64("durationSec", elapsed.Seconds()),
		slog.Int("found", len(items)),
	)

	return domain.SearchResponse{
		Title:      request.Title,
		Language:   request.Language,
		Items:      items,
		Providers:  statuses,
		ElapsedMS:  elapsed.Milliseconds(),
		TotalItems: len(items),
	}
}

// startProviderTask runs one provider search in the background. The task
// reports into a buffered channel so it can finish even after the
// orchestrator stopped waiting for it.
func (s *Service) startProviderTask(ctx context.Context, sem *semaphore.Weighted, provider Provider, request domain.SearchRequest) *providerTask {
	taskCtx, cancel := context.WithCancel(ctx)
	info := providerInfo(provider)
	task := &providerTask{
		key:    info.Name,
		label:  info.Label,
		done:   make(chan providerOutcome, 1),
		cancel: cancel,
	}
	go func() {
		defer cancel()
		task.done <- s.runProvider(taskCtx, sem, task.key, provider, request)
	}()
	return task
}

func (s *Service) runProvider(ctx context.Context, sem *semaphore.Weighted, key string, provider Provider, request domain.SearchRequest) (outcome providerOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = providerOutcome{err: fmt.Errorf("provider %s panicked: %v", key, recovered)}
			s.logger.Error("provider panic recovered", slog.String("provider", key), slog.Any("error", recovered))
		}
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		return providerOutcome{err: fmt.Errorf("waiting for provider slot: %w", err)}
	}
	defer sem.Release(1)

	if err := s.waitProviderRateLimit(ctx, key); err != nil {
		return providerOutcome{err: fmt.Errorf("rate limit wait cancelled: %w", err)}
	}

	ctx, span := tracer.Start(ctx, "provider.Search", trace.WithAttributes(attribute.String("subtitle.provider", key)))
	defer span.End()

	startedAt := time.Now()
	var items []domain.Candidate
	err := RetryWithBackoff(ctx, s.retry, func() error {
		var searchErr error
		items, searchErr = provider.Search(ctx, request)
		return searchErr
	})
	elapsed := time.Since(startedAt)
	s.health.recordResult(key, request.Title, err, elapsed, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return providerOutcome{err: err, elapsed: elapsed}
	}
	span.SetAttributes(attribute.Int("subtitle.results", len(items)))
	return providerOutcome{items: items, elapsed: elapsed}
}

func awaitTask(ctx context.Context, done <-chan providerOutcome, wait time.Duration) (providerOutcome, waitResult) {
	select {
	case outcome := <-done:
		return outcome, waitCompleted
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case outcome := <-done:
		return outcome, waitCompleted
	case <-timer.C:
		return providerOutcome{}, waitDeadline
	case <-ctx.Done():
		return providerOutcome{}, waitCancelled
	}
}
