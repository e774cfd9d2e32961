// Package subtitle normalizes subtitle files of assorted dialects and
// encodings into a form media hosts render: SRT, SSA/ASS or WebVTT.
package subtitle

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/saintfish/chardet"

	"subtitlehub/searchservice/internal/metrics"
)

// Options drive one conversion.
type Options struct {
	// EncodingHint is used when detection is not confident. Defaults to UTF-8.
	EncodingHint string
	// ForceUTF8 re-encodes the output as UTF-8 instead of the source charset.
	ForceUTF8 bool
	// FPS converts frame-coded dialects to time. Zero maps every frame to 0.
	FPS float64
	// FormatHint is returned unchanged when no parser accepts the input.
	FormatHint string
}

// Result is the outcome of Convert. Body is always positioned at offset 0.
// Converted is false when no parser accepted the input; Body is then empty.
type Result struct {
	Body      *bytes.Reader
	Format    string
	Encoding  string
	Parser    string
	Converted bool
}

type parser struct {
	name   string
	format string
	// passthrough parsers return the decoded source instead of rewritten SRT.
	passthrough bool
	formatOf    func(text string) string
	attempt     func(text string, fps float64) ([]Cue, error)
}

// cascade is tried in order; the first parser that succeeds wins.
var cascade = []parser{
	{name: "subrip", format: "srt", passthrough: true, attempt: parseSubRip},
	{name: "microdvd", format: "sub", attempt: parseMicroDVD},
	{name: "subviewer", format: "sub", attempt: parseSubViewer},
	{name: "substation", format: "ssa", passthrough: true, formatOf: subStationFormat, attempt: parseSubStation},
	{name: "ttml", format: "ttml", attempt: parseTTML},
	{name: "webvtt", format: "vtt", passthrough: true, attempt: parseWebVTT},
	{name: "youtube", format: "xml", attempt: parseYouTube},
}

type Converter struct {
	detector charsetDetector
	logger   *slog.Logger
}

type ConverterOption func(*Converter)

func WithDetector(detector charsetDetector) ConverterOption {
	return func(c *Converter) {
		if detector != nil {
			c.detector = detector
		}
	}
}

func WithLogger(logger *slog.Logger) ConverterOption {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{
		detector: chardet.NewTextDetector(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert buffers r, resolves its charset and runs the parser cascade. It
// never fails: unreadable or unrecognized input yields an empty Body with
// Format set to opts.FormatHint.
func (c *Converter) Convert(r io.Reader, opts Options) Result {
	startedAt := time.Now()
	unsupported := Result{Body: bytes.NewReader(nil), Format: opts.FormatHint}

	data, err := io.ReadAll(r)
	if err != nil {
		c.logger.Warn("subtitle read failed", slog.String("error", err.Error()))
		metrics.ConversionsTotal.WithLabelValues("none", "read_error").Inc()
		return unsupported
	}

	source, via := c.resolveCharset(data, opts.EncodingHint)
	text := decode(data, source)
	target := source
	if opts.ForceUTF8 {
		target = utf8Charset
	}
	unsupported.Encoding = source.name

	for _, p := range cascade {
		cues, err := p.try(text, opts.FPS)
		if err != nil {
			c.logger.Debug("subtitle parser rejected input",
				slog.String("parser", p.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		format := p.format
		if p.formatOf != nil {
			format = p.formatOf(text)
		}
		var body []byte
		if p.passthrough {
			body = encode(text, target)
		} else {
			format = "srt"
			body = encode(writeSubRip(cues), target)
		}

		metrics.ConversionsTotal.WithLabelValues(p.name, "ok").Inc()
		c.logger.Debug("subtitle converted",
			slog.String("parser", p.name),
			slog.String("format", format),
			slog.String("sourceEncoding", source.name),
			slog.String("encodingVia", via),
			slog.String("targetEncoding", target.name),
			slog.Int("cues", len(cues)),
			slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
		)
		return Result{
			Body:      bytes.NewReader(body),
			Format:    format,
			Encoding:  target.name,
			Parser:    p.name,
			Converted: true,
		}
	}

	metrics.ConversionsTotal.WithLabelValues("none", "unsupported").Inc()
	c.logger.Info("subtitle format not recognized",
		slog.Int("bytes", len(data)),
		slog.String("sourceEncoding", source.name),
		slog.String("formatHint", opts.FormatHint),
	)
	return unsupported
}

func (p parser) try(text string, fps float64) (cues []Cue, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			cues, err = nil, fmt.Errorf("%s parser panic: %v", p.name, recovered)
		}
	}()
	return p.attempt(text, fps)
}

// Formats lists the dialects Convert recognizes, in cascade order.
func Formats() []string {
	formats := make([]string, 0, len(cascade))
	for _, p := range cascade {
		formats = append(formats, p.name)
	}
	return formats
}
