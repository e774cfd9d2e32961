package subtitle

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ttmlClockPattern  = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})(?:\.(\d+)|:(\d+(?:\.\d+)?))?$`)
	ttmlOffsetPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)(h|ms|m|s|f|t)$`)
)

type ttmlTiming struct {
	frameRate float64
	tickRate  float64
}

// parseTTML reads Timed Text Markup Language documents. Only <p> level
// timing is honoured; <br/> inside a paragraph starts a new line.
func parseTTML(text string, _ float64) ([]Cue, error) {
	decoder := newXMLDecoder(text)

	timing := ttmlTiming{frameRate: 30, tickRate: 1}
	var (
		cues    []Cue
		current *Cue
		body    strings.Builder
		depth   int
		rootSet bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ttml: %w", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			if !rootSet {
				if element.Name.Local != "tt" {
					return nil, fmt.Errorf("ttml: unexpected root <%s>", element.Name.Local)
				}
				rootSet = true
				timing = ttmlRootTiming(element.Attr)
				continue
			}
			if current != nil {
				depth++
				if element.Name.Local == "br" {
					body.WriteString("\n")
				}
				continue
			}
			if element.Name.Local != "p" {
				continue
			}
			cue, ok := ttmlCue(element.Attr, timing)
			if !ok {
				continue
			}
			current = &cue
			body.Reset()
			depth = 0
		case xml.CharData:
			if current != nil {
				body.Write(element)
			}
		case xml.EndElement:
			if current == nil {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			current.Lines = ttmlLines(body.String())
			cues = append(cues, *current)
			current = nil
		}
	}
	if !rootSet {
		return nil, errors.New("ttml: empty document")
	}
	if len(cues) == 0 {
		return nil, errNoCues
	}
	return cues, nil
}

func newXMLDecoder(text string) *xml.Decoder {
	decoder := xml.NewDecoder(strings.NewReader(text))
	// The text is already decoded to UTF-8 whatever the prolog claims.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	return decoder
}

func ttmlRootTiming(attrs []xml.Attr) ttmlTiming {
	timing := ttmlTiming{frameRate: 30, tickRate: 1}
	for _, attr := range attrs {
		value, err := strconv.ParseFloat(strings.TrimSpace(attr.Value), 64)
		if err != nil || value <= 0 {
			continue
		}
		switch attr.Name.Local {
		case "frameRate":
			timing.frameRate = value
		case "tickRate":
			timing.tickRate = value
		}
	}
	return timing
}

func ttmlCue(attrs []xml.Attr, timing ttmlTiming) (Cue, bool) {
	var begin, end, dur string
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "begin":
			begin = attr.Value
		case "end":
			end = attr.Value
		case "dur":
			dur = attr.Value
		}
	}
	start, ok := timing.parse(begin)
	if !ok {
		return Cue{}, false
	}
	cue := Cue{Start: start, End: start}
	if value, ok := timing.parse(end); ok {
		cue.End = value
	} else if value, ok := timing.parse(dur); ok {
		cue.End = start + value
	}
	return cue, true
}

// parse reads clock-time ("00:00:01.500", "00:00:01:12") and offset-time
// ("1.5s", "1500ms", "36f", "10000000t") expressions.
func (t ttmlTiming) parse(raw string) (time.Duration, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	if match := ttmlClockPattern.FindStringSubmatch(value); match != nil {
		d := clockDuration(match[1], match[2], match[3], match[4])
		if match[5] != "" {
			frames, _ := strconv.ParseFloat(match[5], 64)
			d += secondsToDuration(frames / t.frameRate)
		}
		return d, true
	}
	match := ttmlOffsetPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, false
	}
	amount, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	switch match[2] {
	case "h":
		return secondsToDuration(amount * 3600), true
	case "m":
		return secondsToDuration(amount * 60), true
	case "s":
		return secondsToDuration(amount), true
	case "ms":
		return secondsToDuration(amount / 1000), true
	case "f":
		return secondsToDuration(amount / t.frameRate), true
	case "t":
		return secondsToDuration(amount / t.tickRate), true
	}
	return 0, false
}

func ttmlLines(raw string) []string {
	parts := strings.Split(raw, "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		lines = append(lines, strings.Join(strings.Fields(part), " "))
	}
	return lines
}
