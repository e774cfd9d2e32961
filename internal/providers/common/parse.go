package common

import (
	"html"
	"math"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"

	"subtitlehub/searchservice/internal/domain"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func CleanHTMLText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// CompactSnippet flattens raw to single-line text no longer than maxLen,
// for embedding upstream bodies in error messages.
func CompactSnippet(raw string, maxLen int) string {
	value := CleanHTMLText(raw)
	if value == "" {
		return "empty response body"
	}
	if len(value) <= maxLen {
		return value
	}
	if maxLen < 4 {
		return value[:maxLen]
	}
	return value[:maxLen-3] + "..."
}

// ParseDownloadCount reads counters the way subtitle sites print them:
// "1234", "1,234", "1 234", "12.5K", "1.2M", "3,4 тыс".
func ParseDownloadCount(raw string) int {
	value := strings.TrimSpace(strings.ToUpper(raw))
	value = strings.ReplaceAll(value, "ТЫС.", "K")
	value = strings.ReplaceAll(value, "ТЫС", "K")
	value = strings.ReplaceAll(value, "МЛН", "M")
	if value == "" {
		return 0
	}

	multiplier := float64(1)
	number := value
	for _, suffix := range []struct {
		unit  string
		value float64
	}{{"K", 1e3}, {"M", 1e6}} {
		if strings.HasSuffix(number, suffix.unit) {
			multiplier = suffix.value
			number = strings.TrimSpace(strings.TrimSuffix(number, suffix.unit))
			break
		}
	}

	if multiplier == 1 {
		digits := strings.NewReplacer(",", "", " ", "", "\u00a0", "", ".", "").Replace(number)
		parsed, err := strconv.Atoi(digits)
		if err != nil || parsed < 0 {
			return 0
		}
		return parsed
	}

	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return int(math.Round(parsed * multiplier))
}

var knownFormats = map[string]string{
	"srt":  "srt",
	"sub":  "sub",
	"ssa":  "ssa",
	"ass":  "ass",
	"vtt":  "vtt",
	"ttml": "ttml",
	"dfxp": "ttml",
	"xml":  "xml",
	"smi":  "smi",
	"txt":  "txt",
}

var contentTypeFormats = map[string]string{
	"application/x-subrip": "srt",
	"text/srt":             "srt",
	"text/vtt":             "vtt",
	"text/x-ssa":           "ssa",
	"text/x-ass":           "ass",
	"application/ttml+xml": "ttml",
	"application/xml":      "xml",
	"text/xml":             "xml",
}

// FormatFromFileName maps a subtitle file name to its format tag, or "".
func FormatFromFileName(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.TrimSpace(name))), ".")
	return knownFormats[ext]
}

// FormatFromContentType maps a response Content-Type to a format tag, or "".
func FormatFromContentType(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return contentTypeFormats[strings.ToLower(mediaType)]
}

// FileNameFromDisposition extracts the filename parameter of a
// Content-Disposition header.
func FileNameFromDisposition(raw string) string {
	_, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return path.Base(strings.TrimSpace(params["filename"]))
}

// ParseFlags folds upstream flag labels into domain flags. Unknown labels are
// ignored.
func ParseFlags(labels []string) domain.Flags {
	var flags domain.Flags
	for _, label := range labels {
		flag, ok := domain.ParseFlag(label)
		if !ok {
			continue
		}
		switch flag {
		case domain.FlagForced:
			flags.Forced = true
		case domain.FlagHearingImpaired:
			flags.HearingImpaired = true
		case domain.FlagMachineTranslated:
			flags.MachineTranslated = true
		case domain.FlagAITranslated:
			flags.AITranslated = true
		}
	}
	return flags
}
