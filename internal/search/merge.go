package search

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"subtitlehub/searchservice/internal/domain"
)

var (
	tokenPattern       = regexp.MustCompile(`[\p{L}\p{N}]+`)
	subtitleExtPattern = regexp.MustCompile(`(?i)\.(srt|sub|ssa|ass|vtt|ttml|dfxp|xml|smi|txt|zip|rar|7z)$`)
)

// EquivalenceKey decides when two candidates from different providers are the
// same subtitle file.
//
//   - A candidate carrying a content hash is keyed by that hash alone.
//   - Otherwise it is keyed by its normalized release name plus the base
//     language, so "Movie.2019.1080p.srt" [en] and "movie 2019 1080p" [eng]
//     collapse while the same name in another language does not.
//
// An empty key means the candidate cannot be matched by equivalence; it is
// still deduplicated by namespaced id.
func EquivalenceKey(candidate domain.Candidate) string {
	if hash := strings.ToLower(strings.TrimSpace(candidate.Hash)); hash != "" {
		return "hash:" + hash
	}
	name := normalizeReleaseName(candidate.Name)
	if name == "" {
		return ""
	}
	return "name:" + name + "|" + normalizeLanguage(candidate.Language)
}

func normalizeReleaseName(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = subtitleExtPattern.ReplaceAllString(value, "")
	return strings.Join(tokenPattern.FindAllString(value, -1), " ")
}

// normalizeLanguage reduces a language code or tag to its base ISO 639 code.
// Values x/text cannot parse are compared lowercased.
func normalizeLanguage(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return strings.ToLower(value)
	}
	base, _ := tag.Base()
	return base.String()
}

// Merger folds provider batches into one list without duplicates. Lookups
// are map based, so folding n candidates costs O(n).
type Merger struct {
	items []domain.Candidate
	// keys[i] is the equivalence key items[i] was merged under.
	keys  []string
	byKey map[string]int
	byID  map[string]int
}

func NewMerger() *Merger {
	return &Merger{
		byKey: make(map[string]int),
		byID:  make(map[string]int),
	}
}

// Add merges batch into the running result, keying each candidate by
// EquivalenceKey.
func (m *Merger) Add(batch []domain.Candidate) {
	for _, candidate := range batch {
		m.AddKeyed(candidate, EquivalenceKey(candidate))
	}
}

// AddKeyed merges one candidate under a precomputed equivalence key. The
// orchestrator keys candidates before annotation rewrites their names. A
// duplicate replaces the entry it collides with only if it scores strictly
// higher, so on ties the earlier provider wins.
func (m *Merger) AddKeyed(candidate domain.Candidate, key string) {
	index, duplicate := m.byID[candidate.ID]
	if !duplicate && key != "" {
		index, duplicate = m.byKey[key]
	}
	if !duplicate {
		m.items = append(m.items, candidate)
		m.keys = append(m.keys, key)
		index = len(m.items) - 1
		m.byID[candidate.ID] = index
		if key != "" {
			m.byKey[key] = index
		}
		return
	}

	existing := m.items[index]
	if candidate.Score <= existing.Score {
		return
	}
	// candidate.ID is either existing.ID or not indexed yet, so ids stay unique.
	delete(m.byID, existing.ID)
	if previous := m.keys[index]; previous != "" && previous != key {
		if slot, ok := m.byKey[previous]; ok && slot == index {
			delete(m.byKey, previous)
		}
	}
	m.items[index] = candidate
	m.keys[index] = key
	m.byID[candidate.ID] = index
	if key != "" {
		if _, indexed := m.byKey[key]; !indexed {
			m.byKey[key] = index
		}
	}
}

func (m *Merger) Len() int {
	return len(m.items)
}

func (m *Merger) Items() []domain.Candidate {
	return append([]domain.Candidate(nil), m.items...)
}
