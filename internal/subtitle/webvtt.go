package subtitle

import (
	"errors"
	"html"
	"regexp"
	"strings"
)

var (
	webVTTTimingPattern = regexp.MustCompile(
		`^\s*(?:(\d+):)?(\d{1,2}):(\d{2})\.(\d{1,3})\s+-->\s+(?:(\d+):)?(\d{1,2}):(\d{2})\.(\d{1,3})`)
	webVTTTagPattern = regexp.MustCompile(`</?(?:c|v|lang|ruby|rt)(?:[.\s][^>]*)?>|<\d[^>]*>`)
)

func parseWebVTT(text string, _ float64) ([]Cue, error) {
	lines := splitLines(text)
	if !strings.HasPrefix(firstNonEmptyLine(lines), "WEBVTT") {
		return nil, errors.New("missing WEBVTT header")
	}

	var cues []Cue
	for i := 0; i < len(lines); i++ {
		match := webVTTTimingPattern.FindStringSubmatch(lines[i])
		if match == nil {
			continue
		}
		cue := Cue{
			Start: clockDuration(orZero(match[1]), match[2], match[3], match[4]),
			End:   clockDuration(orZero(match[5]), match[6], match[7], match[8]),
		}
		j := i + 1
		for ; j < len(lines); j++ {
			line := lines[j]
			if strings.TrimSpace(line) == "" {
				break
			}
			line = html.UnescapeString(webVTTTagPattern.ReplaceAllString(line, ""))
			cue.Lines = append(cue.Lines, strings.TrimRight(line, " \t"))
		}
		cues = append(cues, cue)
		i = j - 1
	}
	if len(cues) == 0 {
		return nil, errNoCues
	}
	return cues, nil
}

func orZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
