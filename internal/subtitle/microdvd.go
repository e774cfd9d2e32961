package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	microDVDLinePattern = regexp.MustCompile(`^\{(\d+)\}\{(\d*)\}(.*)$`)
	microDVDCodePattern = regexp.MustCompile(`\{[^}]*\}`)
)

const microDVDOpenEnd = 3 * time.Second

// parseMicroDVD reads frame-coded "{start}{end}text" lines. A leading
// "{1}{1}23.976" line declares the frame rate and overrides fps.
func parseMicroDVD(text string, fps float64) ([]Cue, error) {
	type frameCue struct {
		start  int64
		end    int64
		hasEnd bool
		lines  []string
	}

	var frames []frameCue
	for number, line := range splitLines(text) {
		line = strings.TrimPrefix(strings.TrimSpace(line), "\ufeff")
		if line == "" {
			continue
		}
		match := microDVDLinePattern.FindStringSubmatch(line)
		if match == nil {
			return nil, fmt.Errorf("line %d is not frame coded", number+1)
		}
		start, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		end, hasEnd := int64(0), match[2] != ""
		if hasEnd {
			if end, err = strconv.ParseInt(match[2], 10, 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", number+1, err)
			}
		}

		if len(frames) == 0 && start <= 1 && hasEnd && end <= 1 {
			if declared, err := strconv.ParseFloat(strings.TrimSpace(match[3]), 64); err == nil && declared > 0 {
				fps = declared
				continue
			}
		}

		frames = append(frames, frameCue{start: start, end: end, hasEnd: hasEnd, lines: microDVDLines(match[3])})
	}
	if len(frames) == 0 {
		return nil, errNoCues
	}

	cues := make([]Cue, 0, len(frames))
	for i, frame := range frames {
		cue := Cue{Start: frameToDuration(frame.start, fps), Lines: frame.lines}
		switch {
		case frame.hasEnd:
			cue.End = frameToDuration(frame.end, fps)
		case i+1 < len(frames):
			cue.End = frameToDuration(frames[i+1].start, fps)
		case fps > 0:
			cue.End = cue.Start + microDVDOpenEnd
		}
		cues = append(cues, cue)
	}
	return cues, nil
}

func microDVDLines(raw string) []string {
	raw = microDVDCodePattern.ReplaceAllString(raw, "")
	parts := strings.Split(raw, "|")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		lines = append(lines, strings.TrimPrefix(strings.TrimSpace(part), "/"))
	}
	return lines
}
