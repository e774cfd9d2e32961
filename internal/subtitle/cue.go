package subtitle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errNoCues = errors.New("no cues found")

// Cue is one timed caption. Lines never contain newlines.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Lines []string
}

// writeSubRip serializes cues as SRT. Times are rounded to the nearest
// millisecond and negative times are clamped to zero.
func writeSubRip(cues []Cue) string {
	var builder strings.Builder
	index := 0
	for _, cue := range cues {
		lines := nonEmptyLines(cue.Lines)
		if len(lines) == 0 {
			continue
		}
		index++
		if index > 1 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "%d\n%s --> %s\n", index, formatSubRipTime(cue.Start), formatSubRipTime(cue.End))
		for _, line := range lines {
			builder.WriteString(line)
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

func formatSubRipTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	hours := ms / 3_600_000
	ms %= 3_600_000
	minutes := ms / 60_000
	ms %= 60_000
	seconds := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, ms)
}

func nonEmptyLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// clockDuration builds a duration from clock components. fraction is the
// digit string after the decimal separator and is read as a decimal fraction
// of a second, exact to the nanosecond.
func clockDuration(hours, minutes, seconds, fraction string) time.Duration {
	h, _ := strconv.ParseInt(hours, 10, 64)
	m, _ := strconv.ParseInt(minutes, 10, 64)
	s, _ := strconv.ParseInt(seconds, 10, 64)
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return total + fractionDuration(fraction)
}

func fractionDuration(fraction string) time.Duration {
	if fraction == "" {
		return 0
	}
	if len(fraction) > 9 {
		fraction = fraction[:9]
	}
	fraction += strings.Repeat("0", 9-len(fraction))
	ns, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(ns)
}

// frameToDuration converts a frame index at fps to a time offset. fps <= 0
// yields zero for every frame.
func frameToDuration(frame int64, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	seconds := float64(frame) / fps
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

func firstNonEmptyLine(lines []string) string {
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return strings.TrimPrefix(trimmed, "\ufeff")
		}
	}
	return ""
}
