package domain

import "strings"

type ContentType string

const (
	ContentTypeMovie   ContentType = "movie"
	ContentTypeEpisode ContentType = "episode"
)

// NormalizeContentType maps free-form host values onto the two supported
// content types. Anything that is not recognisably an episode is a movie.
func NormalizeContentType(raw string) ContentType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "episode", "series", "tv", "show":
		return ContentTypeEpisode
	default:
		return ContentTypeMovie
	}
}

type SearchRequest struct {
	Title        string
	Language     string
	ContentType  ContentType
	PerfectMatch bool
	ForcedOnly   bool

	// Optional hints. Providers use whatever they understand.
	Year      int
	Season    int
	Episode   int
	MediaHash string
	ImdbID    string
}

type Flags struct {
	HashMatch         bool `json:"hashMatch,omitempty"`
	Forced            bool `json:"forced,omitempty"`
	HearingImpaired   bool `json:"hearingImpaired,omitempty"`
	MachineTranslated bool `json:"machineTranslated,omitempty"`
	AITranslated      bool `json:"aiTranslated,omitempty"`
}

type Flag string

const (
	FlagForced            Flag = "forced"
	FlagHearingImpaired   Flag = "hi"
	FlagMachineTranslated Flag = "mt"
	FlagAITranslated      Flag = "ai"
)

// ParseFlag accepts the short config names and a few long aliases.
func ParseFlag(raw string) (Flag, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "forced":
		return FlagForced, true
	case "hi", "sdh", "hearingimpaired", "hearing-impaired":
		return FlagHearingImpaired, true
	case "mt", "machine", "machinetranslated", "machine-translated":
		return FlagMachineTranslated, true
	case "ai", "aitranslated", "ai-translated":
		return FlagAITranslated, true
	default:
		return "", false
	}
}

func (f Flags) Has(flag Flag) bool {
	switch flag {
	case FlagForced:
		return f.Forced
	case FlagHearingImpaired:
		return f.HearingImpaired
	case FlagMachineTranslated:
		return f.MachineTranslated
	case FlagAITranslated:
		return f.AITranslated
	default:
		return false
	}
}

// Candidate is one subtitle hit. Providers fill ID with their local id; the
// search service rewrites it into the namespaced form before returning it.
type Candidate struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Comment       string  `json:"comment,omitempty"`
	Score         float64 `json:"score"`
	Flags         Flags   `json:"flags"`
	Language      string  `json:"language,omitempty"`
	PageLink      string  `json:"pageLink,omitempty"`
	Format        string  `json:"format,omitempty"`
	Hash          string  `json:"hash,omitempty"`
	DownloadCount int     `json:"downloadCount,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	ProviderLabel string  `json:"providerLabel,omitempty"`
}

// SubtitlePayload is the raw content a provider returns for a fetch.
type SubtitlePayload struct {
	Data     []byte
	Format   string
	Language string
	FileName string
}

type ProviderInfo struct {
	Name         string        `json:"name"`
	Label        string        `json:"label"`
	Kind         string        `json:"kind"`
	Enabled      bool          `json:"enabled"`
	ContentTypes []ContentType `json:"contentTypes"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	TimedOut  bool   `json:"timedOut,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	ElapsedMS int64  `json:"elapsedMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SearchResponse struct {
	Title      string           `json:"title"`
	Language   string           `json:"language,omitempty"`
	Items      []Candidate      `json:"items"`
	Providers  []ProviderStatus `json:"providers"`
	ElapsedMS  int64            `json:"elapsedMs"`
	TotalItems int              `json:"totalItems"`
}
