package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"subtitlehub/searchservice/internal/domain"
)

var (
	ErrNotFound        = errors.New("no provider owns subtitle id")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidTitle    = errors.New("invalid title")
)

const maxTitleLength = 500

// ValidateRequest checks the caller supplied fields Search relies on.
func ValidateRequest(request domain.SearchRequest) error {
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTitle)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("%w: title too long (max %d characters)", ErrInvalidTitle, maxTitleLength)
	}
	return nil
}

// Provider is the capability every subtitle source exposes. Name doubles as
// the namespace prefix of the ids the service hands out, so keys registered
// together must not be prefixes of one another.
type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	ContentTypes() []domain.ContentType
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error)
	Fetch(ctx context.Context, localID string) (domain.SubtitlePayload, error)
}

type Service struct {
	registry         *Registry
	deadline         time.Duration
	annotator        *Annotator
	cancelOnDeadline bool
	retry            RetryConfig
	maxConcurrent    int64
	limiters         map[string]*rate.Limiter
	logger           *slog.Logger
	health           *healthTracker
}

type ServiceOption func(*Service)

func WithPresentation(presentation Presentation) ServiceOption {
	return func(s *Service) {
		s.annotator = NewAnnotator(presentation)
	}
}

// WithCancelOnDeadline makes the orchestrator cancel a provider task as soon
// as it misses its deadline slice instead of leaving it to finish detached.
func WithCancelOnDeadline(enabled bool) ServiceOption {
	return func(s *Service) {
		s.cancelOnDeadline = enabled
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func WithMaxConcurrentProviders(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.maxConcurrent = int64(limit)
		}
	}
}

// WithProviderRateLimit throttles outbound searches per provider key.
func WithProviderRateLimit(rps float64, burst int) ServiceOption {
	return func(s *Service) {
		if rps <= 0 {
			s.limiters = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiters = make(map[string]*rate.Limiter, len(s.registry.keys))
		for _, key := range s.registry.keys {
			s.limiters[key] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(registry *Registry, deadline time.Duration, opts ...ServiceOption) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	svc := &Service{
		registry:      registry,
		deadline:      deadline,
		annotator:     NewAnnotator(DefaultPresentation()),
		retry:         DefaultRetryConfig(),
		maxConcurrent: maxConcurrentProviders,
		logger:        slog.Default(),
		health:        newHealthTracker(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Deadline() time.Duration {
	return s.deadline
}

func (s *Service) Providers() []domain.ProviderInfo {
	providers := s.registry.Providers()
	items := make([]domain.ProviderInfo, 0, len(providers))
	for _, provider := range providers {
		items = append(items, providerInfo(provider))
	}
	return items
}

func providerInfo(provider Provider) domain.ProviderInfo {
	info := provider.Info()
	info.Name = providerKey(provider)
	if info.Label == "" {
		info.Label = info.Name
	}
	if len(info.ContentTypes) == 0 {
		info.ContentTypes = append([]domain.ContentType(nil), provider.ContentTypes()...)
	}
	return info
}

// providerKey is the provider name as registered. It is used verbatim as the
// id namespace, so it keeps its case.
func providerKey(provider Provider) string {
	return strings.TrimSpace(provider.Name())
}

func (s *Service) waitProviderRateLimit(ctx context.Context, key string) error {
	limiter, ok := s.limiters[key]
	if !ok || limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
