package search

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"subtitlehub/searchservice/internal/domain"
)

type PresentationMode string

const (
	PresentationPlain PresentationMode = "plain"
	PresentationRich  PresentationMode = "rich"
)

// Presentation is the host-profile dependent look of annotated candidates.
// Icons lists the flags rendered as badges (plain) or icons (rich); they never
// influence score or identity.
type Presentation struct {
	Mode      PresentationMode
	Icons     []domain.Flag
	LineBreak string
}

func DefaultPresentation() Presentation {
	return Presentation{
		Mode:      PresentationPlain,
		Icons:     []domain.Flag{domain.FlagForced, domain.FlagHearingImpaired},
		LineBreak: "\n",
	}
}

var (
	lineBreakPattern = regexp.MustCompile(`(?i)<br[^>]*>`)
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
)

// badge order matters: each badge is prefixed, so the last one ends up first.
var flagOrder = []domain.Flag{
	domain.FlagForced,
	domain.FlagHearingImpaired,
	domain.FlagMachineTranslated,
	domain.FlagAITranslated,
}

var plainBadges = map[domain.Flag]string{
	domain.FlagForced:            "[Forced] ",
	domain.FlagHearingImpaired:   "[HI/SDH] ",
	domain.FlagMachineTranslated: "[MT] ",
	domain.FlagAITranslated:      "[AI] ",
}

var richIcons = map[domain.Flag]struct{ icon, title string }{
	domain.FlagForced:            {icon: "language", title: "Forced"},
	domain.FlagHearingImpaired:   {icon: "hearing_disabled", title: "HI/SDH"},
	domain.FlagMachineTranslated: {icon: "android", title: "Machine Translated"},
	domain.FlagAITranslated:      {icon: "hdr_auto", title: "AI Translated"},
}

type Annotator struct {
	mode      PresentationMode
	lineBreak string
	icons     map[domain.Flag]struct{}
}

func NewAnnotator(presentation Presentation) *Annotator {
	annotator := &Annotator{
		mode:      presentation.Mode,
		lineBreak: presentation.LineBreak,
		icons:     make(map[domain.Flag]struct{}, len(presentation.Icons)),
	}
	if annotator.mode != PresentationRich {
		annotator.mode = PresentationPlain
	}
	if annotator.lineBreak == "" {
		annotator.lineBreak = "\n"
	}
	for _, flag := range presentation.Icons {
		annotator.icons[flag] = struct{}{}
	}
	return annotator
}

// Annotate namespaces the candidate id with the provider key and formats name
// and comment for display. Calling it twice for the same provider is a no-op.
func (a *Annotator) Annotate(key, label string, candidate domain.Candidate) domain.Candidate {
	if candidate.Provider == key && strings.HasPrefix(candidate.ID, key) {
		return candidate
	}
	candidate.ID = key + candidate.ID
	candidate.Provider = key
	candidate.ProviderLabel = label
	if candidate.ProviderLabel == "" {
		candidate.ProviderLabel = key
	}

	if a.mode == PresentationRich {
		a.formatRich(&candidate, key)
	} else {
		a.formatPlain(&candidate, key)
	}
	return candidate
}

func (a *Annotator) activeFlags(flags domain.Flags) []domain.Flag {
	active := make([]domain.Flag, 0, len(flagOrder))
	for _, flag := range flagOrder {
		if _, enabled := a.icons[flag]; enabled && flags.Has(flag) {
			active = append(active, flag)
		}
	}
	return active
}

func (a *Annotator) formatPlain(candidate *domain.Candidate, key string) {
	for _, flag := range a.activeFlags(candidate.Flags) {
		candidate.Name = plainBadges[flag] + candidate.Name
	}

	comment := lineBreakPattern.ReplaceAllString(candidate.Comment, a.lineBreak)
	doubled := a.lineBreak + a.lineBreak
	for strings.Contains(comment, doubled) {
		comment = strings.ReplaceAll(comment, doubled, a.lineBreak)
	}
	candidate.Comment = "[" + key + "] " + fragmentText(comment)
}

func (a *Annotator) formatRich(candidate *domain.Candidate, key string) {
	candidate.Name = fmt.Sprintf(
		"<a href='%s' target='_blank' is='emby-linkbutton' class='button-link' style='margin:0;text-align:start;'>%s</a>",
		html.EscapeString(candidate.PageLink), candidate.Name,
	)
	candidate.Comment = "<b>[" + key + "]</b> " + candidate.Comment

	var icons strings.Builder
	for _, flag := range a.activeFlags(candidate.Flags) {
		icon := richIcons[flag]
		fmt.Fprintf(&icons,
			`<span class="material-icons %s secondaryText" aria-hidden="true" title="%s" style="font-size:1.4em;"></span>&nbsp;`,
			icon.icon, icon.title,
		)
	}
	if icons.Len() > 0 {
		candidate.Name = `<div class="inline-flex align-items-center justify-content-center mediaInfoItem">` +
			icons.String() + candidate.Name + "</div>"
	}
}

// fragmentText parses raw as a detached HTML fragment and concatenates the
// text of all its nodes. Unparseable input falls back to a regexp strip.
func fragmentText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.TrimSpace(raw)
	}
	container := &nethtml.Node{Type: nethtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := nethtml.ParseFragment(strings.NewReader(raw), container)
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(raw, "")))
	}
	var builder strings.Builder
	for _, node := range nodes {
		appendText(&builder, node)
	}
	return strings.TrimSpace(builder.String())
}

func appendText(builder *strings.Builder, node *nethtml.Node) {
	if node.Type == nethtml.TextNode {
		builder.WriteString(node.Data)
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		appendText(builder, child)
	}
}
