// Package subindex talks to subtitle index services exposing the common JSON
// search API:
//
//	GET {endpoint}/api/search?query=&lang=&type=&year=&season=&episode=&hash=&imdb=
//	GET {endpoint}/api/download/{id}
//
// Several indexes can be registered side by side under different keys.
package subindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"subtitlehub/searchservice/internal/domain"
	"subtitlehub/searchservice/internal/providers/common"
)

const (
	defaultUserAgent  = "subtitle-search/1.0"
	maxSearchBody     = 4 * 1024 * 1024
	maxSubtitleBody   = 10 * 1024 * 1024
	hashMatchBonus    = 100
	defaultEnrichJobs = 4
)

type Config struct {
	Key       string
	Label     string
	Endpoint  string
	UserAgent string
	Client    *http.Client
	// ContentTypes defaults to movies and episodes.
	ContentTypes []domain.ContentType
	// EnrichComments fetches the release page of hits without a comment and
	// uses its release notes instead.
	EnrichComments bool
	EnrichJobs     int
}

type Provider struct {
	key            string
	label          string
	endpoint       *url.URL
	userAgent      string
	client         *http.Client
	contentTypes   []domain.ContentType
	enrichComments bool
	enrichJobs     int
}

// StatusError is a non-2xx answer from the index. Rate limiting and server
// errors are reported as temporary so the search service retries them.
type StatusError struct {
	StatusCode int
	Snippet    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.StatusCode, e.Snippet)
}

func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type searchEnvelope struct {
	Results []searchHit `json:"results"`
}

type searchHit struct {
	ID        hitID    `json:"id"`
	Release   string   `json:"release"`
	FileName  string   `json:"fileName"`
	Comment   string   `json:"comment"`
	Rating    float64  `json:"rating"`
	Downloads string   `json:"downloads"`
	Language  string   `json:"language"`
	URL       string   `json:"url"`
	Format    string   `json:"format"`
	Hash      string   `json:"hash"`
	HashMatch bool     `json:"hashMatch"`
	Flags     []string `json:"flags"`
}

// hitID accepts both numeric and string ids.
type hitID string

func (id *hitID) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = hitID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("subtitle id: %w", err)
	}
	*id = hitID(number.String())
	return nil
}

func NewProvider(cfg Config) (*Provider, error) {
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, fmt.Errorf("subindex: empty provider key")
	}
	endpoint, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"))
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		if err == nil {
			err = fmt.Errorf("missing scheme or host")
		}
		return nil, fmt.Errorf("subindex %s: invalid endpoint %q: %w", key, cfg.Endpoint, err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	label := strings.TrimSpace(cfg.Label)
	if label == "" {
		label = key
	}
	contentTypes := cfg.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = []domain.ContentType{domain.ContentTypeMovie, domain.ContentTypeEpisode}
	}
	jobs := cfg.EnrichJobs
	if jobs <= 0 {
		jobs = defaultEnrichJobs
	}
	return &Provider{
		key:            key,
		label:          label,
		endpoint:       endpoint,
		userAgent:      userAgent,
		client:         client,
		contentTypes:   append([]domain.ContentType(nil), contentTypes...),
		enrichComments: cfg.EnrichComments,
		enrichJobs:     jobs,
	}, nil
}

func (p *Provider) Name() string {
	return p.key
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:         p.key,
		Label:        p.label,
		Kind:         "index",
		Enabled:      true,
		ContentTypes: p.ContentTypes(),
	}
}

func (p *Provider) ContentTypes() []domain.ContentType {
	return append([]domain.ContentType(nil), p.contentTypes...)
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := p.endpoint.JoinPath("api", "search")
	searchURL.RawQuery = searchQuery(request).Encode()

	body, _, err := p.get(ctx, searchURL.String(), "application/json", maxSearchBody)
	if err != nil {
		return nil, err
	}
	var envelope searchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(envelope.Results))
	for _, hit := range envelope.Results {
		candidate, ok := p.candidate(hit, request)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}
	if p.enrichComments {
		p.enrich(ctx, candidates)
	}
	return candidates, nil
}

func (p *Provider) Fetch(ctx context.Context, localID string) (domain.SubtitlePayload, error) {
	id := strings.TrimSpace(localID)
	if id == "" {
		return domain.SubtitlePayload{}, fmt.Errorf("empty subtitle id")
	}
	downloadURL := p.endpoint.JoinPath("api", "download", id)

	body, header, err := p.get(ctx, downloadURL.String(), "*/*", maxSubtitleBody)
	if err != nil {
		return domain.SubtitlePayload{}, err
	}
	fileName := common.FileNameFromDisposition(header.Get("Content-Disposition"))
	format := common.FormatFromFileName(fileName)
	if format == "" {
		format = common.FormatFromContentType(header.Get("Content-Type"))
	}
	if format == "" {
		format = "srt"
	}
	return domain.SubtitlePayload{
		Data:     body,
		Format:   format,
		Language: strings.TrimSpace(header.Get("Content-Language")),
		FileName: fileName,
	}, nil
}

func (p *Provider) candidate(hit searchHit, request domain.SearchRequest) (domain.Candidate, bool) {
	id := strings.TrimSpace(string(hit.ID))
	if id == "" {
		return domain.Candidate{}, false
	}
	name := strings.TrimSpace(hit.Release)
	if name == "" {
		name = strings.TrimSpace(hit.FileName)
	}
	if name == "" {
		name = p.label + " " + id
	}
	language := strings.TrimSpace(hit.Language)
	if language == "" {
		language = request.Language
	}
	format := strings.ToLower(strings.TrimSpace(hit.Format))
	if format == "" {
		format = common.FormatFromFileName(hit.FileName)
	}

	flags := common.ParseFlags(hit.Flags)
	flags.HashMatch = hit.HashMatch
	score := hit.Rating
	if hit.HashMatch {
		score += hashMatchBonus
	}
	return domain.Candidate{
		ID:            id,
		Name:          name,
		Comment:       strings.TrimSpace(hit.Comment),
		Score:         score,
		Flags:         flags,
		Language:      language,
		PageLink:      strings.TrimSpace(hit.URL),
		Format:        format,
		Hash:          strings.TrimSpace(hit.Hash),
		DownloadCount: common.ParseDownloadCount(hit.Downloads),
	}, true
}

func (p *Provider) get(ctx context.Context, target, accept string, limit int64) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Snippet: common.CompactSnippet(string(snippet), 220)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func searchQuery(request domain.SearchRequest) url.Values {
	values := url.Values{}
	values.Set("query", strings.TrimSpace(request.Title))
	if lang := strings.TrimSpace(request.Language); lang != "" {
		values.Set("lang", lang)
	}
	if request.ContentType != "" {
		values.Set("type", string(request.ContentType))
	}
	if request.Year > 0 {
		values.Set("year", strconv.Itoa(request.Year))
	}
	if request.Season > 0 {
		values.Set("season", strconv.Itoa(request.Season))
	}
	if request.Episode > 0 {
		values.Set("episode", strconv.Itoa(request.Episode))
	}
	if hash := strings.TrimSpace(request.MediaHash); hash != "" {
		values.Set("hash", hash)
	}
	if imdb := strings.TrimSpace(request.ImdbID); imdb != "" {
		values.Set("imdb", imdb)
	}
	if request.ForcedOnly {
		values.Set("forced", "1")
	}
	return values
}
