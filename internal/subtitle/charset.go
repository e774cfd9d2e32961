package subtitle

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// minDetectionConfidence is the chardet confidence (0-100) above which a
// detected charset beats the caller's hint.
const minDetectionConfidence = 80

type charsetDetector interface {
	DetectBest(data []byte) (*chardet.Result, error)
}

type charset struct {
	name     string
	encoding encoding.Encoding
}

var utf8Charset = charset{name: "utf-8", encoding: unicode.UTF8}

// resolveCharset picks the encoding of data: a byte order mark wins, then a
// confident statistical guess, then the hint.
func (c *Converter) resolveCharset(data []byte, hint string) (charset, string) {
	if bom, ok := sniffBOM(data); ok {
		return bom, "bom"
	}
	if c.detector != nil && len(data) > 0 {
		result, err := c.detector.DetectBest(data)
		if err == nil && result != nil && result.Confidence > minDetectionConfidence {
			if detected, ok := lookupCharset(result.Charset); ok {
				return detected, "detected"
			}
		}
	}
	if hinted, ok := lookupCharset(hint); ok {
		return hinted, "hint"
	}
	return utf8Charset, "default"
}

func lookupCharset(label string) (charset, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return charset{}, false
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return charset{}, false
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		name = strings.ToLower(label)
	}
	return charset{name: name, encoding: enc}, true
}

func sniffBOM(data []byte) (charset, bool) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return utf8Charset, true
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return charset{name: "utf-16le", encoding: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, true
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return charset{name: "utf-16be", encoding: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, true
	}
	return charset{}, false
}

// decode converts data to UTF-8 text, dropping any byte order mark.
func decode(data []byte, cs charset) string {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(cs.encoding.NewDecoder()), data)
	if err != nil {
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}
	return string(decoded)
}

// encode converts UTF-8 text to cs. Runes cs cannot represent are replaced.
func encode(text string, cs charset) []byte {
	if cs.name == utf8Charset.name {
		return []byte(text)
	}
	encoded, err := encoding.ReplaceUnsupported(cs.encoding.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return []byte(text)
	}
	return encoded
}
