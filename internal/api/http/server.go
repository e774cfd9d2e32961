package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"subtitlehub/searchservice/internal/domain"
	"subtitlehub/searchservice/internal/search"
	"subtitlehub/searchservice/internal/subtitle"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) domain.SearchResponse
	SearchProviders(ctx context.Context, request domain.SearchRequest, providers []string) (domain.SearchResponse, error)
	Fetch(ctx context.Context, id string) (domain.SubtitlePayload, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type Converter interface {
	Convert(r io.Reader, opts subtitle.Options) subtitle.Result
}

type Server struct {
	search       SearchService
	converter    Converter
	logger       *slog.Logger
	defaultFPS   float64
	maxBodyBytes int64
	rateRPS      float64
	rateBurst    int
}

const (
	defaultFPS          = 25
	defaultMaxBodyBytes = 10 * 1024 * 1024
	formatHeader        = "X-Subtitle-Format"
	encodingHeader      = "X-Subtitle-Encoding"
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithConverter(converter Converter) ServerOption {
	return func(s *Server) {
		s.converter = converter
	}
}

// WithDefaultFPS sets the frame rate used for frame-coded subtitles when the
// request carries none.
func WithDefaultFPS(fps float64) ServerOption {
	return func(s *Server) {
		if fps > 0 {
			s.defaultFPS = fps
		}
	}
}

func WithMaxBodyBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// WithRateLimit configures the global request limiter. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:       searchService,
		logger:       slog.Default(),
		defaultFPS:   defaultFPS,
		maxBodyBytes: defaultMaxBodyBytes,
		rateRPS:      10,
		rateBurst:    20,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.converter == nil {
		server.converter = subtitle.NewConverter(subtitle.WithLogger(server.logger))
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/subtitles/search", s.handleSearch)
	mux.HandleFunc("/subtitles/download", s.handleDownload)
	mux.HandleFunc("/subtitles/convert", s.handleConvert)
	mux.HandleFunc("/subtitles/providers", s.handleProviders)
	mux.HandleFunc("/subtitles/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/subtitles/providers/test", s.handleProviderTest)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "subtitle-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	var handler http.Handler = metricsMiddleware(traced)
	if s.rateRPS > 0 {
		handler = rateLimitMiddleware(s.rateRPS, s.rateBurst, handler)
	}
	return recoveryMiddleware(s.logger, handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	request, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := search.ValidateRequest(request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	providers := parseCSV(r.URL.Query().Get("providers"))
	if len(providers) == 0 {
		writeJSON(w, http.StatusOK, s.search.Search(r.Context(), request))
		return
	}
	response, err := s.search.SearchProviders(r.Context(), request, providers)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("title", truncate(request.Title, 80)),
			slog.Any("providers", providers),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, search.ErrUnknownProvider) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	opts, err := s.parseConvertOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	payload, err := s.search.Fetch(r.Context(), id)
	if err != nil {
		if errors.Is(err, search.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.logger.Warn("subtitle download failed", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
		return
	}

	if !parseOptionalBool(r.URL.Query().Get("convert")) {
		writeSubtitle(w, http.StatusOK, payload.Format, "", payload.FileName, payload.Data)
		return
	}
	opts.FormatHint = payload.Format
	s.writeConverted(w, bytes.NewReader(payload.Data), opts, payload.FileName)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	opts, err := s.parseConvertOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	opts.FormatHint = strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "subtitle body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}
	s.writeConverted(w, bytes.NewReader(data), opts, "")
}

func (s *Server) writeConverted(w http.ResponseWriter, body io.Reader, opts subtitle.Options, fileName string) {
	result := s.converter.Convert(body, opts)
	if !result.Converted {
		w.Header().Set(formatHeader, result.Format)
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	data, err := io.ReadAll(result.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "conversion output unreadable")
		return
	}
	writeSubtitle(w, http.StatusOK, result.Format, result.Encoding, renameExt(fileName, result.Format), data)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   s.search.Providers(),
		"formats": subtitle.Formats(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.ProviderDiagnostics(),
	})
}

func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	provider := strings.TrimSpace(r.URL.Query().Get("provider"))
	if provider == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider is required")
		return
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		title = "The Matrix"
	}
	request := domain.SearchRequest{
		Title:       title,
		Language:    strings.TrimSpace(r.URL.Query().Get("lang")),
		ContentType: domain.NormalizeContentType(r.URL.Query().Get("type")),
	}

	startedAt := time.Now()
	response, err := s.search.SearchProviders(r.Context(), request, []string{provider})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"provider":  provider,
			"title":     title,
			"ok":        false,
			"elapsedMs": time.Since(startedAt).Milliseconds(),
			"error":     err.Error(),
		})
		return
	}

	var providerStatus domain.ProviderStatus
	for _, status := range response.Providers {
		if strings.EqualFold(status.Name, provider) {
			providerStatus = status
			break
		}
	}
	sample := make([]string, 0, 3)
	for _, item := range response.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		sample = append(sample, truncate(name, 120))
		if len(sample) >= 3 {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"provider":  provider,
		"title":     title,
		"ok":        providerStatus.OK,
		"timedOut":  providerStatus.TimedOut,
		"count":     providerStatus.Count,
		"elapsedMs": response.ElapsedMS,
		"error":     providerStatus.Error,
		"sample":    sample,
	})
}

func parseSearchRequest(r *http.Request) (domain.SearchRequest, error) {
	query := r.URL.Query()
	year, err := parseNonNegativeInt(r, "year", 0)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid year")
	}
	season, err := parseNonNegativeInt(r, "season", 0)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid season")
	}
	episode, err := parseNonNegativeInt(r, "episode", 0)
	if err != nil {
		return domain.SearchRequest{}, errors.New("invalid episode")
	}
	return domain.SearchRequest{
		Title:        strings.TrimSpace(query.Get("title")),
		Language:     strings.TrimSpace(query.Get("lang")),
		ContentType:  domain.NormalizeContentType(query.Get("type")),
		PerfectMatch: parseOptionalBool(query.Get("perfectMatch")),
		ForcedOnly:   parseOptionalBool(query.Get("forced")),
		Year:         year,
		Season:       season,
		Episode:      episode,
		MediaHash:    strings.TrimSpace(query.Get("hash")),
		ImdbID:       strings.TrimSpace(query.Get("imdb")),
	}, nil
}

func (s *Server) parseConvertOptions(r *http.Request) (subtitle.Options, error) {
	fps, err := parseOptionalFloat(r, "fps", s.defaultFPS)
	if err != nil || fps < 0 {
		return subtitle.Options{}, errors.New("invalid fps")
	}
	return subtitle.Options{
		EncodingHint: strings.TrimSpace(r.URL.Query().Get("encoding")),
		ForceUTF8:    parseOptionalBool(r.URL.Query().Get("utf8")),
		FPS:          fps,
	}, nil
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		lower := strings.ToLower(value)
		if value == "" {
			continue
		}
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, value)
	}
	return out
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalFloat(r *http.Request, key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

var subtitleContentTypes = map[string]string{
	"srt":  "application/x-subrip",
	"vtt":  "text/vtt",
	"ssa":  "text/x-ssa",
	"ass":  "text/x-ass",
	"ttml": "application/ttml+xml",
	"xml":  "application/xml",
}

func writeSubtitle(w http.ResponseWriter, status int, format, encoding, fileName string, data []byte) {
	contentType, ok := subtitleContentTypes[format]
	if !ok {
		contentType = "application/octet-stream"
	}
	if encoding != "" && ok {
		contentType += "; charset=" + encoding
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(formatHeader, format)
	if encoding != "" {
		w.Header().Set(encodingHeader, encoding)
	}
	if fileName != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(fileName, `"`, "")+`"`)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func renameExt(fileName, format string) string {
	if fileName == "" || format == "" {
		return fileName
	}
	return strings.TrimSuffix(fileName, path.Ext(fileName)) + "." + format
}
