package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"subtitlehub/searchservice/internal/domain"
)

func TestFetchRoutesByPrefix(t *testing.T) {
	os := &fakeProvider{name: "os", payloads: map[string]domain.SubtitlePayload{
		"42": {Data: []byte("1\n"), Format: "srt"},
	}}
	sub := &fakeProvider{name: "sub"}
	service := newTestService(time.Second, sub, os)

	payload, err := service.Fetch(context.Background(), "os42")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(payload.Data) != "1\n" || payload.Format != "srt" {
		t.Fatalf("payload altered: %+v", payload)
	}
	if os.lastFetch != "42" || sub.lastFetch != "" {
		t.Fatalf("wrong provider called: os=%q sub=%q", os.lastFetch, sub.lastFetch)
	}
}

func TestFetchUnknownPrefix(t *testing.T) {
	service := newTestService(time.Second, &fakeProvider{name: "os"})
	for _, id := range []string{"zz1", "", "OS1"} {
		if _, err := service.Fetch(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Fetch(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestFetchProviderError(t *testing.T) {
	cause := errors.New("upstream 503")
	service := newTestService(time.Second, &fakeProvider{name: "os", err: cause})
	_, err := service.Fetch(context.Background(), "os1")
	if !errors.Is(err, cause) || errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	first := &fakeProvider{name: "os"}
	duplicate := &fakeProvider{name: "OS"}
	second := &fakeProvider{name: "sub", contentTypes: []domain.ContentType{domain.ContentTypeMovie}}
	registry := NewRegistry(first, nil, duplicate, &fakeProvider{name: "  "}, second)

	if registry.Len() != 2 {
		t.Fatalf("expected 2 providers, got %d", registry.Len())
	}
	if provider, ok := registry.Lookup(" Sub "); !ok || provider != second {
		t.Fatal("lookup should be case-insensitive")
	}
	if eligible := registry.Eligible(domain.ContentTypeEpisode); len(eligible) != 1 || eligible[0] != first {
		t.Fatalf("unexpected eligible providers: %v", eligible)
	}
	provider, localID, ok := registry.Resolve("sub-abc")
	if !ok || provider != second || localID != "-abc" {
		t.Fatalf("unexpected resolve: %v %q %v", provider, localID, ok)
	}
}
