package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"subtitlehub/searchservice/internal/domain"
)

// Fetch routes a namespaced id to the provider owning its prefix and returns
// the provider's payload untouched. Ids no provider claims fail with
// ErrNotFound.
func (s *Service) Fetch(ctx context.Context, id string) (domain.SubtitlePayload, error) {
	provider, localID, ok := s.registry.Resolve(id)
	if !ok {
		s.logger.Warn("subtitle fetch: no provider for id", slog.String("id", id))
		return domain.SubtitlePayload{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	key := providerKey(provider)

	ctx, span := tracer.Start(ctx, "provider.Fetch", trace.WithAttributes(
		attribute.String("subtitle.provider", key),
		attribute.String("subtitle.id", localID),
	))
	defer span.End()

	startedAt := time.Now()
	payload, err := provider.Fetch(ctx, localID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("subtitle fetch failed",
			slog.String("provider", key),
			slog.String("id", localID),
			slog.String("error", err.Error()),
		)
		return domain.SubtitlePayload{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	s.logger.Info("subtitle fetched",
		slog.String("provider", key),
		slog.String("id", localID),
		slog.String("format", payload.Format),
		slog.Int("bytes", len(payload.Data)),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	return payload, nil
}
