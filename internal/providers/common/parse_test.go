package common

import (
	"testing"

	"subtitlehub/searchservice/internal/domain"
)

// ---------------------------------------------------------------------------
// ParseDownloadCount
// ---------------------------------------------------------------------------

func TestParseDownloadCount(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"42", 42},
		{"1,234", 1234},
		{"1 234", 1234},
		{"12.5K", 12500},
		{"1.2M", 1200000},
		{"3,4 тыс", 3400},
		{"-5", 0},
		{"lots", 0},
	}
	for _, tc := range cases {
		got := ParseDownloadCount(tc.input)
		if got != tc.want {
			t.Errorf("ParseDownloadCount(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// CleanHTMLText / CompactSnippet
// ---------------------------------------------------------------------------

func TestCleanHTMLText(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"<b>Synced</b> for   WEB-DL", "Synced for WEB-DL"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"  ", ""},
	}
	for _, tc := range cases {
		got := CleanHTMLText(tc.input)
		if got != tc.want {
			t.Errorf("CleanHTMLText(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestCompactSnippet(t *testing.T) {
	if got := CompactSnippet("", 10); got != "empty response body" {
		t.Fatalf("unexpected empty snippet: %q", got)
	}
	if got := CompactSnippet("<p>abcdefghijkl</p>", 8); got != "abcde..." {
		t.Fatalf("unexpected truncated snippet: %q", got)
	}
	if got := CompactSnippet("short", 8); got != "short" {
		t.Fatalf("unexpected short snippet: %q", got)
	}
}

// ---------------------------------------------------------------------------
// Formats
// ---------------------------------------------------------------------------

func TestFormatFromFileName(t *testing.T) {
	cases := map[string]string{
		"Movie.2019.1080p.srt": "srt",
		"episode.ASS":          "ass",
		"captions.dfxp":        "ttml",
		"archive.zip":          "",
		"noext":                "",
	}
	for input, want := range cases {
		if got := FormatFromFileName(input); got != want {
			t.Errorf("FormatFromFileName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatFromContentType(t *testing.T) {
	cases := map[string]string{
		"application/x-subrip; charset=utf-8": "srt",
		"text/vtt":                            "vtt",
		"application/octet-stream":            "",
		"not a media type;;":                  "",
	}
	for input, want := range cases {
		if got := FormatFromContentType(input); got != want {
			t.Errorf("FormatFromContentType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFileNameFromDisposition(t *testing.T) {
	got := FileNameFromDisposition(`attachment; filename="../Movie.2019.srt"`)
	if got != "Movie.2019.srt" {
		t.Fatalf("unexpected file name: %q", got)
	}
	if got := FileNameFromDisposition(""); got != "" {
		t.Fatalf("expected empty file name, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// ParseFlags
// ---------------------------------------------------------------------------

func TestParseFlags(t *testing.T) {
	flags := ParseFlags([]string{"Forced", "SDH", "ai", "bogus"})
	want := domain.Flags{Forced: true, HearingImpaired: true, AITranslated: true}
	if flags != want {
		t.Fatalf("unexpected flags: %+v", flags)
	}
	if ParseFlags(nil) != (domain.Flags{}) {
		t.Fatal("expected no flags for nil labels")
	}
}
