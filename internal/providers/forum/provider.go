// Package forum scrapes phpBB-style subtitle forums: a tracker search page
// listing topics, one attachment download per topic.
package forum

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"subtitlehub/searchservice/internal/domain"
	"subtitlehub/searchservice/internal/providers/common"
)

const (
	defaultUserAgent = "subtitle-search/1.0"
	defaultLanguage  = "ru"
	maxPageBody      = 4 * 1024 * 1024
	maxSubtitleBody  = 8 * 1024 * 1024
)

var (
	forumTopicPattern     = regexp.MustCompile(`(?is)<a[^>]+href=(?:"([^"]*viewtopic\.php[^"]*)"|'([^']*viewtopic\.php[^']*)')[^>]*>(.*?)</a>`)
	forumTopicIDPattern   = regexp.MustCompile(`(?:\?|&)t=([0-9]+)(?:&|$)`)
	forumRowPattern       = regexp.MustCompile(`(?is)<tr[^>]*class="tCenter[^"]*"[^>]*>.*?</tr>`)
	forumDownloadsPattern = regexp.MustCompile(`(?i)class="[^"]*dl-count[^"]*"[^>]*>\s*(?:<b>)?\s*([^<]+)`)
	forumLanguagePattern  = regexp.MustCompile(`(?i)data-lang="([a-z]{2,3}(?:-[a-z0-9]{2,8})?)"`)
	forumRatingPattern    = regexp.MustCompile(`(?i)data-rating="([0-9]+(?:\.[0-9]+)?)"`)
	forumTagPattern       = regexp.MustCompile(`\[([^\[\]]{1,24})\]`)
)

type Config struct {
	Key       string
	Label     string
	Endpoint  string
	UserAgent string
	Client    *http.Client
	// Cookies is sent verbatim; most forums hide attachments from guests.
	Cookies string
	// Language is reported for topics whose row carries no language marker.
	Language     string
	ContentTypes []domain.ContentType
}

type Provider struct {
	key          string
	label        string
	client       *http.Client
	endpoint     *url.URL
	userAgent    string
	cookies      string
	language     string
	contentTypes []domain.ContentType
}

type topicEntry struct {
	ID        string
	Name      string
	Language  string
	Downloads int
	Rating    float64
}

func NewProvider(cfg Config) (*Provider, error) {
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errors.New("forum: empty provider key")
	}
	endpoint, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		if err == nil {
			err = errors.New("missing scheme or host")
		}
		return nil, fmt.Errorf("forum %s: invalid endpoint %q: %w", key, cfg.Endpoint, err)
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
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	contentTypes := cfg.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = []domain.ContentType{domain.ContentTypeMovie, domain.ContentTypeEpisode}
	}
	return &Provider{
		key:          key,
		label:        label,
		client:       client,
		endpoint:     endpoint,
		userAgent:    userAgent,
		cookies:      strings.TrimSpace(cfg.Cookies),
		language:     language,
		contentTypes: append([]domain.ContentType(nil), contentTypes...),
	}, nil
}

func (p *Provider) Name() string {
	return p.key
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:         p.key,
		Label:        p.label,
		Kind:         "forum",
		Enabled:      p.cookies != "",
		ContentTypes: p.ContentTypes(),
	}
}

func (p *Provider) ContentTypes() []domain.ContentType {
	return append([]domain.ContentType(nil), p.contentTypes...)
}

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.Candidate, error) {
	searchURL := *p.endpoint
	query := searchURL.Query()
	query.Set("nm", searchTerms(request))
	searchURL.RawQuery = query.Encode()

	payload, finalURL, _, err := p.get(ctx, searchURL.String(), "text/html,application/xhtml+xml", maxPageBody)
	if err != nil {
		return nil, err
	}
	htmlPayload := decodeHTML(payload)
	if isLoginPage(finalURL, htmlPayload) {
		return nil, fmt.Errorf("%s login required: provide SUBTITLE_FORUM_COOKIE", p.key)
	}

	entries := parseTopics(htmlPayload)
	candidates := make([]domain.Candidate, 0, len(entries))
	for _, entry := range entries {
		language := entry.Language
		if language == "" {
			language = p.language
		}
		candidates = append(candidates, domain.Candidate{
			ID:            entry.ID,
			Name:          entry.Name,
			Score:         entry.Rating,
			Flags:         topicFlags(entry.Name),
			Language:      language,
			PageLink:      p.topicURL(entry.ID),
			DownloadCount: entry.Downloads,
		})
	}
	return candidates, nil
}

// Fetch downloads the attachment of topic localID.
func (p *Provider) Fetch(ctx context.Context, localID string) (domain.SubtitlePayload, error) {
	id := strings.TrimSpace(localID)
	if id == "" || strings.Trim(id, "0123456789") != "" {
		return domain.SubtitlePayload{}, fmt.Errorf("invalid topic id %q", localID)
	}
	downloadURL := p.endpoint.ResolveReference(&url.URL{Path: "dl.php", RawQuery: url.Values{"t": {id}}.Encode()})

	body, finalURL, header, err := p.get(ctx, downloadURL.String(), "*/*", maxSubtitleBody)
	if err != nil {
		return domain.SubtitlePayload{}, err
	}
	if strings.HasPrefix(strings.ToLower(header.Get("Content-Type")), "text/html") {
		if isLoginPage(finalURL, decodeHTML(body)) {
			return domain.SubtitlePayload{}, fmt.Errorf("%s login required to download topic %s", p.key, id)
		}
		return domain.SubtitlePayload{}, fmt.Errorf("topic %s has no attachment", id)
	}

	fileName := common.FileNameFromDisposition(header.Get("Content-Disposition"))
	format := common.FormatFromFileName(fileName)
	if format == "" {
		format = common.FormatFromContentType(header.Get("Content-Type"))
	}
	return domain.SubtitlePayload{
		Data:     body,
		Format:   format,
		Language: p.language,
		FileName: fileName,
	}, nil
}

func (p *Provider) topicURL(id string) string {
	detail := p.endpoint.ResolveReference(&url.URL{Path: "viewtopic.php"})
	detail.RawQuery = url.Values{"t": {id}}.Encode()
	return detail.String()
}

func (p *Provider) get(ctx context.Context, target, accept string, limit int64) ([]byte, *url.URL, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	if p.cookies != "" {
		req.Header.Set("Cookie", p.cookies)
	}

	resp, err := p.doRequestWithRetry(ctx, req)
	if err != nil {
		return nil, nil, nil, normalizeTransportError(p.key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, nil, nil, fmt.Errorf("provider HTTP %d: %s", resp.StatusCode, common.CompactSnippet(decodeHTML(snippet), 220))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, nil, err
	}
	return body, resp.Request.URL, resp.Header, nil
}

// searchTerms appends the year or episode marker forum titles usually carry.
func searchTerms(request domain.SearchRequest) string {
	terms := strings.TrimSpace(request.Title)
	switch {
	case request.ContentType == domain.ContentTypeEpisode && request.Season > 0 && request.Episode > 0:
		terms += fmt.Sprintf(" S%02dE%02d", request.Season, request.Episode)
	case request.ContentType == domain.ContentTypeEpisode && request.Season > 0:
		terms += fmt.Sprintf(" S%02d", request.Season)
	case request.Year > 0:
		terms += " " + strconv.Itoa(request.Year)
	}
	return terms
}

func topicFlags(name string) domain.Flags {
	matches := forumTagPattern.FindAllStringSubmatch(name, -1)
	labels := make([]string, 0, len(matches))
	for _, match := range matches {
		labels = append(labels, match[1])
	}
	return common.ParseFlags(labels)
}

func parseTopics(payload string) []topicEntry {
	// Rows carry downloads, rating and language; bare links are the fallback.
	rows := forumRowPattern.FindAllString(payload, -1)
	if len(rows) > 0 {
		items := make([]topicEntry, 0, len(rows))
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			entry := parseTopicRow(row)
			if entry.ID == "" || entry.Name == "" {
				continue
			}
			if _, exists := seen[entry.ID]; exists {
				continue
			}
			seen[entry.ID] = struct{}{}
			items = append(items, entry)
		}
		if len(items) > 0 {
			return items
		}
	}

	matches := forumTopicPattern.FindAllStringSubmatch(payload, -1)
	items := make([]topicEntry, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		id, name := topicLink(match)
		if id == "" || name == "" {
			continue
		}
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, topicEntry{ID: id, Name: name})
	}
	return items
}

func parseTopicRow(row string) topicEntry {
	entry := topicEntry{}
	for _, match := range forumTopicPattern.FindAllStringSubmatch(row, -1) {
		id, name := topicLink(match)
		if id == "" || name == "" {
			continue
		}
		entry.ID = id
		entry.Name = name
		break
	}
	if m := forumDownloadsPattern.FindStringSubmatch(row); len(m) >= 2 {
		entry.Downloads = common.ParseDownloadCount(m[1])
	}
	if m := forumLanguagePattern.FindStringSubmatch(row); len(m) >= 2 {
		entry.Language = strings.ToLower(m[1])
	}
	if m := forumRatingPattern.FindStringSubmatch(row); len(m) >= 2 {
		entry.Rating, _ = strconv.ParseFloat(m[1], 64)
	}
	return entry
}

func topicLink(match []string) (string, string) {
	if len(match) < 4 {
		return "", ""
	}
	href := strings.TrimSpace(html.UnescapeString(match[1]))
	if href == "" {
		href = strings.TrimSpace(html.UnescapeString(match[2]))
	}
	return extractTopicID(href), common.CleanHTMLText(match[3])
}

func extractTopicID(href string) string {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil {
		if value := strings.TrimSpace(parsed.Query().Get("t")); value != "" {
			return value
		}
	}
	if match := forumTopicIDPattern.FindStringSubmatch(trimmed); len(match) >= 2 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func isLoginPage(finalURL *url.URL, payload string) bool {
	if finalURL != nil && strings.Contains(strings.ToLower(finalURL.Path), "login.php") {
		return true
	}
	content := strings.ToLower(payload)
	if strings.Contains(content, "form action=\"login.php\"") {
		return true
	}
	return strings.Contains(content, "name=\"login_username\"") || strings.Contains(content, "name='login_username'")
}

// decodeHTML returns payload as text. Forum pages that are not valid UTF-8
// are served in windows-1251.
func decodeHTML(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(payload)
	if err != nil {
		return string(payload)
	}
	return string(decoded)
}

func (p *Provider) doRequestWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	const maxAttempts = 3
	backoffs := []time.Duration{0, 250 * time.Millisecond, 700 * time.Millisecond}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := p.client.Do(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransientNetworkError(err) || attempt == maxAttempts-1 {
			break
		}
		timer := time.NewTimer(backoffs[attempt+1])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func isTransientNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "tls: bad record mac") ||
		strings.Contains(lower, "handshake")
}

func normalizeTransportError(key string, err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "tls") || strings.Contains(lower, "handshake") || strings.Contains(lower, "eof") {
		return fmt.Errorf("%s unreachable from this network (tls/connection reset), check proxy or cookies: %w", key, err)
	}
	return err
}
