package subtitle

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ssaTimePattern     = regexp.MustCompile(`^(\d+):(\d{1,2}):(\d{1,2})[.:](\d{1,3})$`)
	ssaOverridePattern = regexp.MustCompile(`\{[^}]*\}`)
	ssaDefaultFormat   = []string{"layer", "start", "end", "style", "name", "marginl", "marginr", "marginv", "effect", "text"}
)

// parseSubStation reads the [Events] section of SSA and ASS scripts.
func parseSubStation(text string, _ float64) ([]Cue, error) {
	inEvents := false
	columns := ssaDefaultFormat
	var cues []Cue
	for _, raw := range splitLines(text) {
		line := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inEvents = strings.EqualFold(line, "[Events]")
			continue
		}
		if !inEvents {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "format":
			columns = ssaColumns(value)
		case "dialogue":
			if cue, ok := ssaDialogue(columns, value); ok {
				cues = append(cues, cue)
			}
		}
	}
	if len(cues) == 0 {
		if !strings.Contains(strings.ToLower(text), "[events]") {
			return nil, errors.New("missing [Events] section")
		}
		return nil, errNoCues
	}
	return cues, nil
}

func ssaColumns(value string) []string {
	parts := strings.Split(value, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		columns = append(columns, strings.ToLower(strings.TrimSpace(part)))
	}
	return columns
}

func ssaDialogue(columns []string, value string) (Cue, bool) {
	fields := strings.SplitN(value, ",", len(columns))
	if len(fields) != len(columns) {
		return Cue{}, false
	}
	var start, end, body string
	var hasStart, hasEnd, hasText bool
	for i, column := range columns {
		switch column {
		case "start":
			start, hasStart = strings.TrimSpace(fields[i]), true
		case "end":
			end, hasEnd = strings.TrimSpace(fields[i]), true
		case "text":
			body, hasText = fields[i], true
		}
	}
	if !hasStart || !hasEnd || !hasText {
		return Cue{}, false
	}
	startMatch := ssaTimePattern.FindStringSubmatch(start)
	endMatch := ssaTimePattern.FindStringSubmatch(end)
	if startMatch == nil || endMatch == nil {
		return Cue{}, false
	}

	body = ssaOverridePattern.ReplaceAllString(body, "")
	body = strings.NewReplacer(`\N`, "\n", `\n`, "\n", `\h`, " ").Replace(body)
	return Cue{
		Start: clockDuration(startMatch[1], startMatch[2], startMatch[3], startMatch[4]),
		End:   clockDuration(endMatch[1], endMatch[2], endMatch[3], endMatch[4]),
		Lines: strings.Split(body, "\n"),
	}, true
}

// subStationFormat tells Advanced SubStation scripts apart from SSA v4.
func subStationFormat(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "[v4+ styles]") || strings.Contains(lower, "scripttype: v4.00+") {
		return "ass"
	}
	return "ssa"
}
