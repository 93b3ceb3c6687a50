// Package vocab rewrites leftover short forms in final chunks and derives
// the stage and parameter vocabulary consumed by query-side filters.
package vocab

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
)

// Normalizer replaces whole-word short forms with their canonical phrase in
// one pass. Replacements are never re-scanned.
type Normalizer struct {
	re     *regexp.Regexp
	labels map[string]string
	size   int
}

// NewNormalizer compiles a table. Entries with an empty short form, or that
// map a short form to itself, are ignored. When a short form repeats the
// first entry wins.
func NewNormalizer(table []Abbreviation) *Normalizer {
	labels := make(map[string]string, len(table))
	shorts := make([]string, 0, len(table))
	for _, a := range table {
		if a.Short == "" || a.Short == a.Full {
			continue
		}
		if _, dup := labels[a.Short]; dup {
			continue
		}
		labels[a.Short] = a.Full
		shorts = append(shorts, a.Short)
	}

	n := &Normalizer{labels: labels, size: len(shorts)}
	if len(shorts) == 0 {
		return n
	}

	sort.SliceStable(shorts, func(i, j int) bool {
		if len(shorts[i]) != len(shorts[j]) {
			return len(shorts[i]) > len(shorts[j])
		}
		return shorts[i] < shorts[j]
	})
	quoted := make([]string, len(shorts))
	for i, s := range shorts {
		quoted[i] = regexp.QuoteMeta(s)
	}
	n.re = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return n
}

// Size returns the number of active entries.
func (n *Normalizer) Size() int { return n.size }

// Text normalizes one string. When a label extends its own short form and the
// text already reads as the label (for example "EL" inside "EL 40 Finish"),
// the match is left alone, which keeps the pass idempotent.
func (n *Normalizer) Text(s string) string {
	if n.re == nil || s == "" {
		return s
	}
	matches := n.re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		short := s[m[0]:m[1]]
		label := n.labels[short]
		if len(label) > len(short) && strings.HasPrefix(label, short) && strings.HasPrefix(s[m[0]:], label) {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(label)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// Normalize returns normalized copies of chunks: content and every metadata
// value are rewritten, and "same" is set to "of article {X}" when the chunk
// carries Article_No or article.
func (n *Normalizer) Normalize(chunks []chunking.Chunk) []chunking.Chunk {
	out := make([]chunking.Chunk, len(chunks))
	for i, c := range chunks {
		c = c.Clone()
		c.Content = n.Text(c.Content)
		for k, v := range c.Metadata {
			c.Metadata[k] = n.Text(v)
		}
		article := c.Metadata["Article_No"]
		if article == "" {
			article = c.Metadata["article"]
		}
		if article != "" {
			c.Metadata[chunking.KeySame] = "of article " + article
		}
		out[i] = c
	}
	return out
}

// LossyCollapses lists labels that more than one distinct short form maps
// to, with the short forms sorted. Such labels lose the original code.
func LossyCollapses(table []Abbreviation) map[string][]string {
	byLabel := make(map[string]map[string]struct{})
	for _, a := range table {
		if a.Short == "" || a.Short == a.Full {
			continue
		}
		if byLabel[a.Full] == nil {
			byLabel[a.Full] = make(map[string]struct{})
		}
		byLabel[a.Full][a.Short] = struct{}{}
	}
	out := make(map[string][]string)
	for label, shorts := range byLabel {
		if len(shorts) < 2 {
			continue
		}
		list := make([]string, 0, len(shorts))
		for s := range shorts {
			list = append(list, s)
		}
		sort.Strings(list)
		out[label] = list
	}
	return out
}
