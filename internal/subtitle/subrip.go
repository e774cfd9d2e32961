package subtitle

import (
	"errors"
	"regexp"
	"strings"
)

var (
	subRipTimingPattern = regexp.MustCompile(
		`^\s*(\d+):(\d{1,2}):(\d{1,2})[,.](\d{1,9})\s*-->\s*(\d+):(\d{1,2}):(\d{1,2})[,.](\d{1,9})`)
	subRipIndexPattern = regexp.MustCompile(`^\s*\d+\s*$`)
)

func parseSubRip(text string, _ float64) ([]Cue, error) {
	lines := splitLines(text)
	if strings.HasPrefix(firstNonEmptyLine(lines), "WEBVTT") {
		return nil, errors.New("webvtt header")
	}

	var cues []Cue
	for i := 0; i < len(lines); i++ {
		match := subRipTimingPattern.FindStringSubmatch(lines[i])
		if match == nil {
			continue
		}
		cue := Cue{
			Start: clockDuration(match[1], match[2], match[3], match[4]),
			End:   clockDuration(match[5], match[6], match[7], match[8]),
		}
		j := i + 1
		for ; j < len(lines); j++ {
			line := lines[j]
			if strings.TrimSpace(line) == "" || subRipTimingPattern.MatchString(line) {
				break
			}
			if subRipIndexPattern.MatchString(line) && j+1 < len(lines) && subRipTimingPattern.MatchString(lines[j+1]) {
				break
			}
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
