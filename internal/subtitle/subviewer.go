package subtitle

import (
	"regexp"
	"strings"
)

var (
	subViewerTimingPattern = regexp.MustCompile(
		`^\s*(\d+):(\d{1,2}):(\d{1,2})\.(\d{1,3})\s*,\s*(\d+):(\d{1,2}):(\d{1,2})\.(\d{1,3})\s*$`)
	subViewerBreakPattern = regexp.MustCompile(`(?i)\[br\]|\|`)
)

// parseSubViewer reads SubViewer 2.0: a "[INFORMATION]" header followed by
// "H:MM:SS.cc,H:MM:SS.cc" timing lines, each followed by one text line.
func parseSubViewer(text string, _ float64) ([]Cue, error) {
	lines := splitLines(text)

	var cues []Cue
	for i := 0; i < len(lines); i++ {
		match := subViewerTimingPattern.FindStringSubmatch(lines[i])
		if match == nil {
			continue
		}
		cue := Cue{
			Start: clockDuration(match[1], match[2], match[3], match[4]),
			End:   clockDuration(match[5], match[6], match[7], match[8]),
		}
		j := i + 1
		for ; j < len(lines); j++ {
			line := strings.TrimSpace(lines[j])
			if line == "" || subViewerTimingPattern.MatchString(line) {
				break
			}
			for _, part := range subViewerBreakPattern.Split(line, -1) {
				cue.Lines = append(cue.Lines, strings.TrimSpace(part))
			}
		}
		cues = append(cues, cue)
		i = j - 1
	}
	if len(cues) == 0 {
		return nil, errNoCues
	}
	return cues, nil
}
