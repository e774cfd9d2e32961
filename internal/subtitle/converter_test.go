package subtitle

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/saintfish/chardet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

type fixedDetector struct {
	charset    string
	confidence int
	err        error
}

func (d fixedDetector) DetectBest([]byte) (*chardet.Result, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &chardet.Result{Charset: d.charset, Confidence: d.confidence}, nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func newTestConverter(detector fixedDetector) *Converter {
	return NewConverter(WithDetector(detector))
}

func readAll(t *testing.T, result Result) string {
	t.Helper()
	require.NotNil(t, result.Body)
	data, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	return string(data)
}

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,500\nHello there\n\n2\n00:01:02,345 --> 00:01:04,000\nSecond line\nwraps here\n"

func TestConvertSubRipRoundTripsUnchanged(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(strings.NewReader(sampleSRT), Options{ForceUTF8: true})

	require.True(t, result.Converted)
	assert.Equal(t, "srt", result.Format)
	assert.Equal(t, "subrip", result.Parser)
	assert.Equal(t, sampleSRT, readAll(t, result))
}

func TestConvertBodyIsRewound(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(strings.NewReader(sampleSRT), Options{})

	require.NotNil(t, result.Body)
	assert.Equal(t, int64(len(sampleSRT)), result.Body.Size())
	assert.Equal(t, len(sampleSRT), result.Body.Len())
}

func TestConvertMicroDVDAtTwentyFiveFPS(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(strings.NewReader("{125}{150}Hello|{y:i}world\n"), Options{FPS: 25, ForceUTF8: true})

	require.True(t, result.Converted)
	assert.Equal(t, "srt", result.Format)
	assert.Equal(t, "microdvd", result.Parser)
	assert.Equal(t, "1\n00:00:05,000 --> 00:00:06,000\nHello\nworld\n", readAll(t, result))
}

func TestConvertMicroDVDWithZeroFPSYieldsZeroTimestamps(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	var result Result
	require.NotPanics(t, func() {
		result = converter.Convert(strings.NewReader("{125}{150}Hello\n{200}{250}Bye\n"), Options{FPS: 0})
	})

	require.True(t, result.Converted)
	assert.Equal(t,
		"1\n00:00:00,000 --> 00:00:00,000\nHello\n\n2\n00:00:00,000 --> 00:00:00,000\nBye\n",
		readAll(t, result))
}

func TestConvertMicroDVDHeaderOverridesFPS(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(strings.NewReader("{1}{1}10\n{50}{60}Hi\n"), Options{FPS: 25})

	require.True(t, result.Converted)
	assert.Equal(t, "1\n00:00:05,000 --> 00:00:06,000\nHi\n", readAll(t, result))
}

func TestConvertPassthroughFormats(t *testing.T) {
	ass := "[Script Info]\nScriptType: v4.00+\n\n[V4+ Styles]\nFormat: Name, Fontname\nStyle: Default,Arial\n\n[Events]\n" +
		"Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n" +
		"Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,{\\i1}Hello, world{\\i0}\n"
	ssa := "[Script Info]\nScriptType: v4.00\n\n[Events]\n" +
		"Format: Marked, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n" +
		"Dialogue: Marked=0,0:00:01.00,0:00:02.00,Default,,0000,0000,0000,,Hi\n"
	vtt := "WEBVTT\n\n00:01.000 --> 00:02.500\n<v Bob>Hello</v>\n"

	tests := []struct {
		name   string
		input  string
		format string
		parser string
	}{
		{name: "ass", input: ass, format: "ass", parser: "substation"},
		{name: "ssa", input: ssa, format: "ssa", parser: "substation"},
		{name: "vtt", input: vtt, format: "vtt", parser: "webvtt"},
	}
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := converter.Convert(strings.NewReader(tc.input), Options{ForceUTF8: true})
			require.True(t, result.Converted)
			assert.Equal(t, tc.format, result.Format)
			assert.Equal(t, tc.parser, result.Parser)
			assert.Equal(t, tc.input, readAll(t, result))
		})
	}
}

func TestConvertRewritesToSubRip(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		parser string
		want   string
	}{
		{
			name:   "subviewer",
			input:  "[INFORMATION]\n[TITLE]Film\n[END INFORMATION]\n\n00:00:01.50,00:00:03.00\nHello[br]world\n",
			parser: "subviewer",
			want:   "1\n00:00:01,500 --> 00:00:03,000\nHello\nworld\n",
		},
		{
			name: "ttml",
			input: `<?xml version="1.0" encoding="utf-16"?>` +
				`<tt xmlns="http://www.w3.org/ns/ttml" xmlns:ttp="http://www.w3.org/ns/ttml#parameter" ttp:frameRate="25">` +
				`<body><div><p begin="00:00:01.250" end="00:00:02:12">Hello<br/><span>world</span></p>` +
				`<p begin="3s" dur="1500ms">Again</p></div></body></tt>`,
			parser: "ttml",
			want:   "1\n00:00:01,250 --> 00:00:02,480\nHello\nworld\n\n2\n00:00:03,000 --> 00:00:04,500\nAgain\n",
		},
		{
			name:   "youtube transcript",
			input:  `<?xml version="1.0" encoding="utf-8" ?><transcript><text start="1.5" dur="2.25">It&amp;#39;s fine</text></transcript>`,
			parser: "youtube",
			want:   "1\n00:00:01,500 --> 00:00:03,750\nIt's fine\n",
		},
		{
			name:   "youtube timedtext",
			input:  `<timedtext format="3"><body><p t="1000" d="500">One</p><p t="2000" d="1000"><s>Two</s></p></body></timedtext>`,
			parser: "youtube",
			want:   "1\n00:00:01,000 --> 00:00:01,500\nOne\n\n2\n00:00:02,000 --> 00:00:03,000\nTwo\n",
		},
	}
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := converter.Convert(strings.NewReader(tc.input), Options{FPS: 25, ForceUTF8: true})
			require.True(t, result.Converted)
			assert.Equal(t, "srt", result.Format)
			assert.Equal(t, tc.parser, result.Parser)
			assert.Equal(t, tc.want, readAll(t, result))
		})
	}
}

func TestConvertUnsupportedReturnsEmptyBodyAndHint(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(strings.NewReader("just some prose\nwith no timing at all\n"), Options{FormatHint: "txt"})

	assert.False(t, result.Converted)
	assert.Equal(t, "txt", result.Format)
	assert.Equal(t, "", readAll(t, result))
}

func TestConvertReadErrorIsUnsupported(t *testing.T) {
	converter := newTestConverter(fixedDetector{charset: "UTF-8", confidence: 100})

	result := converter.Convert(failingReader{}, Options{FormatHint: "srt"})

	assert.False(t, result.Converted)
	assert.Equal(t, "srt", result.Format)
	assert.Equal(t, 0, result.Body.Len())
}

func TestConvertUsesHintWhenDetectionIsNotConfident(t *testing.T) {
	source := "1\n00:00:01,000 --> 00:00:02,000\nПривет\n"
	encoded, err := charmap.Windows1251.NewEncoder().Bytes([]byte(source))
	require.NoError(t, err)

	tests := []struct {
		name     string
		detector fixedDetector
	}{
		{name: "low confidence", detector: fixedDetector{charset: "ISO-8859-1", confidence: 40}},
		{name: "detector error", detector: fixedDetector{err: errors.New("undetectable")}},
		{name: "unknown charset", detector: fixedDetector{charset: "x-klingon", confidence: 100}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			converter := newTestConverter(tc.detector)

			asUTF8 := converter.Convert(bytes.NewReader(encoded), Options{EncodingHint: "windows-1251", ForceUTF8: true})
			require.True(t, asUTF8.Converted)
			assert.Equal(t, "utf-8", asUTF8.Encoding)
			assert.Equal(t, source, readAll(t, asUTF8))

			native := converter.Convert(bytes.NewReader(encoded), Options{EncodingHint: "windows-1251"})
			require.True(t, native.Converted)
			assert.Equal(t, "windows-1251", native.Encoding)
			assert.Equal(t, encoded, []byte(readAll(t, native)))
		})
	}
}

func TestConvertConfidentDetectionBeatsHint(t *testing.T) {
	source := "1\n00:00:01,000 --> 00:00:02,000\nçà\n"
	encoded, err := charmap.Windows1252.NewEncoder().Bytes([]byte(source))
	require.NoError(t, err)
	converter := newTestConverter(fixedDetector{charset: "windows-1252", confidence: 95})

	result := converter.Convert(bytes.NewReader(encoded), Options{EncodingHint: "windows-1251", ForceUTF8: true})

	require.True(t, result.Converted)
	assert.Equal(t, source, readAll(t, result))
}

func TestConvertByteOrderMarkWins(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleSRT)...)
	converter := newTestConverter(fixedDetector{charset: "windows-1251", confidence: 100})

	result := converter.Convert(bytes.NewReader(input), Options{EncodingHint: "windows-1251"})

	require.True(t, result.Converted)
	assert.Equal(t, "utf-8", result.Encoding)
	assert.Equal(t, sampleSRT, readAll(t, result))
}

func TestParserPanicMovesToNextParser(t *testing.T) {
	p := parser{name: "boom", attempt: func(string, float64) ([]Cue, error) { panic("bad input") }}

	cues, err := p.try("anything", 0)

	assert.Nil(t, cues)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom parser panic")
}

func TestFormatsFollowCascadeOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"subrip", "microdvd", "subviewer", "substation", "ttml", "webvtt", "youtube"},
		Formats())
}
