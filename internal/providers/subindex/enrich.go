package subindex

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"subtitlehub/searchservice/internal/domain"
)

const maxReleasePage = 2 * 1024 * 1024

var releaseNoteSelectors = []string{
	"[itemprop='description']",
	".release-notes",
	".subtitle-comment",
	".comment",
	"#description",
}

// enrich fills empty comments from the candidates' release pages. Failures
// leave the comment empty; the search result is never dropped.
func (p *Provider) enrich(ctx context.Context, candidates []domain.Candidate) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.enrichJobs)

	for i := range candidates {
		if candidates[i].Comment != "" || candidates[i].PageLink == "" {
			continue
		}
		candidate := &candidates[i]
		g.Go(func() error {
			page, _, err := p.get(gctx, candidate.PageLink, "text/html,application/xhtml+xml", maxReleasePage)
			if err != nil {
				slog.Debug("release page fetch failed",
					slog.String("provider", p.key),
					slog.String("url", candidate.PageLink),
					slog.String("error", err.Error()),
				)
				return nil
			}
			candidate.Comment = releaseNotes(page)
			return nil
		})
	}
	_ = g.Wait()
}

// releaseNotes returns the inner HTML of the first release-notes block on a
// page, keeping <br> markers for the annotator.
func releaseNotes(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	for _, selector := range releaseNoteSelectors {
		selection := doc.Find(selector).First()
		if selection.Length() == 0 {
			continue
		}
		notes, err := selection.Html()
		if err != nil {
			continue
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			return notes
		}
	}
	return ""
}
