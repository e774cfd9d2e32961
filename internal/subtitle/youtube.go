package subtitle

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"time"
)

// parseYouTube reads both YouTube timed-text flavours:
//
//	<transcript><text start="1.5" dur="2">…</text></transcript>   (seconds)
//	<timedtext><body><p t="1500" d="2000">…</p></body></timedtext> (milliseconds)
func parseYouTube(text string, _ float64) ([]Cue, error) {
	decoder := newXMLDecoder(text)

	var (
		cues         []Cue
		current      *Cue
		body         strings.Builder
		depth        int
		root         string
		cueElement   string
		milliseconds bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("youtube: %w", err)
		}

		switch element := token.(type) {
		case xml.StartElement:
			if root == "" {
				root = element.Name.Local
				switch root {
				case "transcript":
					cueElement = "text"
				case "timedtext":
					cueElement, milliseconds = "p", true
				default:
					return nil, fmt.Errorf("youtube: unexpected root <%s>", root)
				}
				continue
			}
			if current != nil {
				depth++
				if element.Name.Local == "br" {
					body.WriteString("\n")
				}
				continue
			}
			if element.Name.Local != cueElement {
				continue
			}
			cue, ok := youTubeCue(element.Attr, milliseconds)
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
			// Transcript text is escaped twice ("&amp;#39;").
			current.Lines = strings.Split(strings.TrimSpace(html.UnescapeString(body.String())), "\n")
			cues = append(cues, *current)
			current = nil
		}
	}
	if root == "" {
		return nil, errors.New("youtube: empty document")
	}
	if len(cues) == 0 {
		return nil, errNoCues
	}
	return cues, nil
}

func youTubeCue(attrs []xml.Attr, milliseconds bool) (Cue, bool) {
	startKey, durKey := "start", "dur"
	if milliseconds {
		startKey, durKey = "t", "d"
	}
	var start, dur float64
	hasStart := false
	for _, attr := range attrs {
		value, err := strconv.ParseFloat(strings.TrimSpace(attr.Value), 64)
		if err != nil {
			continue
		}
		switch attr.Name.Local {
		case startKey:
			start, hasStart = value, true
		case durKey:
			dur = value
		}
	}
	if !hasStart {
		return Cue{}, false
	}
	unit := time.Second
	if milliseconds {
		unit = time.Millisecond
	}
	begin := time.Duration(start * float64(unit)).Round(time.Millisecond)
	return Cue{
		Start: begin,
		End:   begin + time.Duration(dur*float64(unit)).Round(time.Millisecond),
	}, true
}
