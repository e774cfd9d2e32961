package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"subtitlehub/searchservice/internal/domain"
)

type HostProfile string

const (
	HostJellyfin HostProfile = "jellyfin"
	HostEmby     HostProfile = "emby"
)

// Hosts abandon a subtitle search after a fixed time. The aggregate deadline
// stays just under it so partial results still reach the host.
var hostDeadlines = map[HostProfile]time.Duration{
	HostJellyfin: 29 * time.Second,
	HostEmby:     180 * time.Second,
}

type ProviderEndpoint struct {
	Key      string
	Endpoint string
}

type Config struct {
	HTTPAddr               string
	LogLevel               string
	LogFormat              string
	UserAgent              string
	HostProfile            HostProfile
	SearchDeadline         time.Duration
	ProviderRequestTimeout time.Duration
	InfoWithHTML           bool
	IconFlags              []domain.Flag
	LineBreak              string
	CancelOnDeadline       bool
	Providers              []ProviderEndpoint
	EnrichComments         bool
	ForumEndpoint          string
	ForumCookies           string
	ForumProxyURL          string
	ForumLanguage          string
	ProviderRateLimitRPS   float64
	HTTPRateLimitRPS       float64
	HTTPRateLimitBurst     int
	DefaultFPS             float64
	MaxConvertBytes        int64
}

func LoadConfig() Config {
	profile := parseHostProfile(getEnv("HOST_PROFILE", string(HostJellyfin)))
	deadline := hostDeadlines[profile]
	if seconds := getEnvInt("SEARCH_DEADLINE_SECONDS", 0); seconds > 0 {
		deadline = time.Duration(seconds) * time.Second
	}
	return Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8095"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:              getEnv("SEARCH_USER_AGENT", "subtitle-search/1.0"),
		HostProfile:            profile,
		SearchDeadline:         deadline,
		ProviderRequestTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", int(deadline/time.Second)+5)) * time.Second,
		InfoWithHTML:           getEnvBool("SUBTITLE_INFO_WITH_HTML", profile == HostEmby),
		IconFlags:              parseIconFlags(getEnv("SUBTITLE_ICON_FLAGS", "forced,hi")),
		LineBreak:              parseLineBreak(os.Getenv("SUBTITLE_LINE_BREAK")),
		CancelOnDeadline:       getEnvBool("SEARCH_CANCEL_ON_DEADLINE", false),
		Providers:              parseProviderEndpoints(getEnv("SUBTITLE_PROVIDERS", "")),
		EnrichComments:         getEnvBool("SUBTITLE_ENRICH_COMMENTS", false),
		ForumEndpoint:          getEnv("SUBTITLE_FORUM_URL", ""),
		ForumCookies:           getEnv("SUBTITLE_FORUM_COOKIE", ""),
		ForumProxyURL:          getEnv("SUBTITLE_FORUM_PROXY", ""),
		ForumLanguage:          strings.ToLower(getEnv("SUBTITLE_FORUM_LANGUAGE", "ru")),
		ProviderRateLimitRPS:   getEnvFloat("PROVIDER_RATE_LIMIT_RPS", 0),
		HTTPRateLimitRPS:       getEnvFloat("HTTP_RATE_LIMIT_RPS", 10),
		HTTPRateLimitBurst:     getEnvInt("HTTP_RATE_LIMIT_BURST", 20),
		DefaultFPS:             getEnvFloat("SUBTITLE_DEFAULT_FPS", 25),
		MaxConvertBytes:        int64(getEnvInt("SUBTITLE_MAX_BYTES", 10*1024*1024)),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseHostProfile(raw string) HostProfile {
	switch HostProfile(strings.ToLower(strings.TrimSpace(raw))) {
	case HostEmby:
		return HostEmby
	default:
		return HostJellyfin
	}
}

func parseIconFlags(raw string) []domain.Flag {
	if strings.EqualFold(strings.TrimSpace(raw), "none") {
		return nil
	}
	flags := make([]domain.Flag, 0, 4)
	seen := make(map[domain.Flag]struct{}, 4)
	for _, part := range strings.Split(raw, ",") {
		flag, ok := domain.ParseFlag(part)
		if !ok {
			continue
		}
		if _, exists := seen[flag]; exists {
			continue
		}
		seen[flag] = struct{}{}
		flags = append(flags, flag)
	}
	return flags
}

// parseLineBreak accepts escaped separators ("\n", " | ") as env values
// cannot carry raw newlines portably. Unset means a newline.
func parseLineBreak(raw string) string {
	if raw == "" {
		return "\n"
	}
	return strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t").Replace(raw)
}

// parseProviderEndpoints reads "key=https://host,key2=https://host2". Entries
// without a key or endpoint and repeated keys are skipped.
func parseProviderEndpoints(raw string) []ProviderEndpoint {
	parts := strings.Split(raw, ",")
	items := make([]ProviderEndpoint, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		key, endpoint, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		endpoint = strings.TrimSpace(endpoint)
		if !ok || key == "" || endpoint == "" {
			continue
		}
		lower := strings.ToLower(key)
		if _, exists := seen[lower]; exists {
			continue
		}
		seen[lower] = struct{}{}
		items = append(items, ProviderEndpoint{Key: key, Endpoint: endpoint})
	}
	return items
}
