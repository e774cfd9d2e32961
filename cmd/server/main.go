package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "subtitlehub/searchservice/internal/api/http"
	"subtitlehub/searchservice/internal/app"
	"subtitlehub/searchservice/internal/metrics"
	"subtitlehub/searchservice/internal/providers/forum"
	"subtitlehub/searchservice/internal/providers/subindex"
	"subtitlehub/searchservice/internal/search"
	"subtitlehub/searchservice/internal/subtitle"
	"subtitlehub/searchservice/internal/telemetry"
)

const serviceName = "subtitle-search"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("hostProfile", string(cfg.HostProfile)),
		slog.Duration("searchDeadline", cfg.SearchDeadline),
		slog.Duration("providerTimeout", cfg.ProviderRequestTimeout),
		slog.Bool("infoWithHTML", cfg.InfoWithHTML),
		slog.Bool("cancelOnDeadline", cfg.CancelOnDeadline),
		slog.Int("providers", len(cfg.Providers)),
		slog.String("forumEndpoint", cfg.ForumEndpoint),
		slog.Bool("hasForumCookies", cfg.ForumCookies != ""),
		slog.Bool("hasForumProxy", cfg.ForumProxyURL != ""),
		slog.Float64("defaultFPS", cfg.DefaultFPS),
	)

	registry := search.NewRegistry(buildProviders(cfg, logger)...)
	if registry.Len() == 0 {
		logger.Warn("no subtitle providers configured; searches will return empty results")
	}

	searchService := search.NewService(registry, cfg.SearchDeadline, buildServiceOptions(cfg, logger)...)

	converter := subtitle.NewConverter(subtitle.WithLogger(logger))
	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithConverter(converter),
		apihttp.WithDefaultFPS(cfg.DefaultFPS),
		apihttp.WithMaxBodyBytes(cfg.MaxConvertBytes),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A search may take the whole host deadline before it answers.
		WriteTimeout: cfg.SearchDeadline + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("subtitle search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("deadline", searchService.Deadline()),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("subtitle search service stopped")
}

func buildProviders(cfg app.Config, logger *slog.Logger) []search.Provider {
	providers := make([]search.Provider, 0, len(cfg.Providers))
	for _, endpoint := range cfg.Providers {
		client := &http.Client{
			Timeout:   cfg.ProviderRequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		provider, err := subindex.NewProvider(subindex.Config{
			Key:            endpoint.Key,
			Endpoint:       endpoint.Endpoint,
			UserAgent:      cfg.UserAgent,
			Client:         client,
			EnrichComments: cfg.EnrichComments,
		})
		if err != nil {
			logger.Warn("subtitle provider disabled",
				slog.String("provider", endpoint.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("subtitle provider registered",
			slog.String("provider", provider.Name()),
			slog.String("endpoint", endpoint.Endpoint),
		)
		providers = append(providers, provider)
	}
	if cfg.ForumEndpoint != "" {
		provider, err := forum.NewProvider(forum.Config{
			Key:       "forum",
			Label:     "Subtitle forum",
			Endpoint:  cfg.ForumEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    newForumHTTPClient(cfg.ProviderRequestTimeout, cfg.ForumProxyURL),
			Cookies:   cfg.ForumCookies,
			Language:  cfg.ForumLanguage,
		})
		if err != nil {
			logger.Warn("subtitle forum disabled", slog.String("error", err.Error()))
		} else {
			providers = append(providers, provider)
		}
	}
	return providers
}

func newForumHTTPClient(timeout time.Duration, proxyRaw string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true

	proxyValue := strings.TrimSpace(proxyRaw)
	if proxyValue != "" {
		parsed, err := url.Parse(proxyValue)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			if err == nil {
				err = errors.New("missing scheme or host")
			}
			slog.Default().Warn("invalid forum proxy url; proxy disabled", slog.String("error", err.Error()))
			transport.Proxy = nil
		} else {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		// Ignore container proxy variables unless a proxy is configured explicitly.
		transport.Proxy = nil
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

func buildServiceOptions(cfg app.Config, logger *slog.Logger) []search.ServiceOption {
	mode := search.PresentationPlain
	if cfg.InfoWithHTML {
		mode = search.PresentationRich
	}
	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithPresentation(search.Presentation{
			Mode:      mode,
			Icons:     cfg.IconFlags,
			LineBreak: cfg.LineBreak,
		}),
		search.WithCancelOnDeadline(cfg.CancelOnDeadline),
	}
	if cfg.ProviderRateLimitRPS > 0 {
		opts = append(opts, search.WithProviderRateLimit(cfg.ProviderRateLimitRPS, 1))
	}
	return opts
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
