package subindex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"subtitlehub/searchservice/internal/domain"
)

func newTestProvider(t *testing.T, handler http.Handler, enrich bool) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := NewProvider(Config{
		Key:            "os",
		Label:          "OpenSubs",
		Endpoint:       server.URL + "/",
		Client:         server.Client(),
		EnrichComments: enrich,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return provider, server
}

func TestNewProviderValidatesConfig(t *testing.T) {
	if _, err := NewProvider(Config{Endpoint: "https://subs.example"}); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewProvider(Config{Key: "x", Endpoint: "subs.example"}); err == nil {
		t.Fatal("expected error for endpoint without scheme")
	}
	provider, err := NewProvider(Config{Key: " x ", Endpoint: "https://subs.example"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := provider.Info()
	if info.Name != "x" || info.Label != "x" || len(info.ContentTypes) != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestSearchMapsHits(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[
			{"id":123,"release":"Movie.2019.1080p","rating":7.5,"downloads":"1.2K","language":"en","flags":["forced","sdh"],"hash":"ABC","hashMatch":true,"url":"https://subs.example/123"},
			{"id":"x-9","fileName":"Movie.2019.720p.ass","comment":"synced","rating":6},
			{"id":"","release":"dropped"}
		]}`)
	})
	provider, _ := newTestProvider(t, mux, false)

	items, err := provider.Search(context.Background(), domain.SearchRequest{
		Title:       "Movie",
		Language:    "en",
		ContentType: domain.ContentTypeEpisode,
		Season:      1,
		Episode:     2,
		MediaHash:   "abc",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, fragment := range []string{"query=Movie", "lang=en", "type=episode", "season=1", "episode=2", "hash=abc"} {
		if !strings.Contains(gotQuery, fragment) {
			t.Errorf("query %q missing %q", gotQuery, fragment)
		}
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ID != "123" || first.Name != "Movie.2019.1080p" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.Score != 107.5 || !first.Flags.HashMatch || !first.Flags.Forced || !first.Flags.HearingImpaired {
		t.Fatalf("unexpected score/flags: %v %+v", first.Score, first.Flags)
	}
	if first.DownloadCount != 1200 || first.Hash != "ABC" {
		t.Fatalf("unexpected downloads/hash: %d %q", first.DownloadCount, first.Hash)
	}

	second := items[1]
	if second.ID != "x-9" || second.Name != "Movie.2019.720p.ass" || second.Format != "ass" {
		t.Fatalf("unexpected second item: %+v", second)
	}
	if second.Language != "en" {
		t.Fatalf("expected request language fallback, got %q", second.Language)
	}
}

func TestSearchStatusErrors(t *testing.T) {
	testCases := []struct {
		status    int
		temporary bool
	}{
		{status: http.StatusTooManyRequests, temporary: true},
		{status: http.StatusBadGateway, temporary: true},
		{status: http.StatusForbidden, temporary: false},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "<h1>nope</h1>", tc.status)
			}), false)

			_, err := provider.Search(context.Background(), domain.SearchRequest{Title: "x"})
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if statusErr.StatusCode != tc.status || statusErr.Temporary() != tc.temporary {
				t.Fatalf("unexpected status error: %+v temporary=%v", statusErr, statusErr.Temporary())
			}
			if statusErr.Snippet != "nope" {
				t.Fatalf("unexpected snippet: %q", statusErr.Snippet)
			}
		})
	}
}

func TestSearchRejectsMalformedJSON(t *testing.T) {
	provider, _ := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":`)
	}), false)

	if _, err := provider.Search(context.Background(), domain.SearchRequest{Title: "x"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSearchEnrichesEmptyComments(t *testing.T) {
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"results":[
			{"id":1,"release":"a","url":"%[1]s/release/1"},
			{"id":2,"release":"b","comment":"kept","url":"%[1]s/release/2"},
			{"id":3,"release":"c","url":"%[1]s/missing"}
		]}`, serverURL)
	})
	mux.HandleFunc("/release/", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		fmt.Fprint(w, `<html><body><script>var x=1;</script>
			<div class="release-notes">Synced for <b>WEB-DL</b><br>by someone</div></body></html>`)
	})
	provider, server := newTestProvider(t, mux, true)
	serverURL = server.URL

	items, err := provider.Search(context.Background(), domain.SearchRequest{Title: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Comment != "Synced for <b>WEB-DL</b><br/>by someone" {
		t.Fatalf("unexpected enriched comment: %q", items[0].Comment)
	}
	if items[1].Comment != "kept" {
		t.Fatalf("existing comment overwritten: %q", items[1].Comment)
	}
	if items[2].Comment != "" {
		t.Fatalf("expected empty comment for missing page, got %q", items[2].Comment)
	}
	if pageHits.Load() != 1 {
		t.Fatalf("expected exactly one release page fetch, got %d", pageHits.Load())
	}
}

func TestFetchReturnsPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/download/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Movie.2019.vtt"`)
		w.Header().Set("Content-Language", "de")
		fmt.Fprint(w, "WEBVTT\n")
	})
	mux.HandleFunc("/api/download/43", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/x-ssa")
		fmt.Fprint(w, "[Script Info]\n")
	})
	provider, _ := newTestProvider(t, mux, false)

	payload, err := provider.Fetch(context.Background(), "42")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(payload.Data) != "WEBVTT\n" || payload.Format != "vtt" || payload.FileName != "Movie.2019.vtt" || payload.Language != "de" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	payload, err = provider.Fetch(context.Background(), "43")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if payload.Format != "ssa" {
		t.Fatalf("expected content-type format, got %q", payload.Format)
	}

	if _, err := provider.Fetch(context.Background(), "404"); err == nil {
		t.Fatal("expected error for missing subtitle")
	}
	if _, err := provider.Fetch(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty id")
	}
}
