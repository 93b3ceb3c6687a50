// Package grouping reduces raw sheet rows into one logical record per
// (article, stage, sub-config) key.
package grouping

import (
	"regexp"
	"strings"
)

// Stage is a canonical process stage tag.
type Stage string

const (
	StageWarping          Stage = "Warping"
	StageGriege           Stage = "Griege"
	StageWeft             Stage = "Weft"
	StageProcessing       Stage = "Processing"
	StageCoating          Stage = "Coating"
	StagePrinting         Stage = "Printing"
	StageBeaming          Stage = "Beaming"
	StageDirectWarping    Stage = "Direct Warping"
	StageSectionalWarping Stage = "Sectional Warping"
	StageWarpWeft         Stage = "Warp and Weft Yarn details"
	StageWeaving          Stage = "Weaving"
)

// ArticleKey carries both spellings of an article: the raw full form
// (possibly suffixed, e.g. "8228FT") and its numeric projection.
type ArticleKey struct {
	Full    string
	Numeric string
}

var (
	leadingFourDigits = regexp.MustCompile(`^\d{4}`)
	firstDigitRun     = regexp.MustCompile(`\d+`)
	nonDigits         = regexp.MustCompile(`[^0-9]`)
)

// BOMArticle projects the leading four digit run, falling back to full.
func BOMArticle(full string) ArticleKey {
	full = strings.TrimSpace(full)
	num := leadingFourDigits.FindString(full)
	if num == "" {
		num = full
	}
	return ArticleKey{Full: full, Numeric: num}
}

// RouteArticle projects the first digit run. Numeric is empty when the
// value has no digits.
func RouteArticle(full string) ArticleKey {
	full = strings.TrimSpace(full)
	return ArticleKey{Full: full, Numeric: firstDigitRun.FindString(full)}
}

// QualityArticle keeps every digit, falling back to full.
func QualityArticle(full string) ArticleKey {
	full = strings.TrimSpace(full)
	num := nonDigits.ReplaceAllString(full, "")
	if num == "" {
		num = full
	}
	return ArticleKey{Full: full, Numeric: num}
}

// Mention renders "{full} or {numeric}", or just one form when they agree.
func (a ArticleKey) Mention() string {
	if a.Full == a.Numeric || a.Numeric == "" {
		return a.Full
	}
	if a.Full == "" {
		return a.Numeric
	}
	return a.Full + " or " + a.Numeric
}

// Key identifies a logical record.
type Key struct {
	Article ArticleKey
	Stage   Stage
	Sub     string
}

// String renders the key for logs and bucketing.
func (k Key) String() string {
	return k.Article.Full + "\x1f" + k.Article.Numeric + "\x1f" + string(k.Stage) + "\x1f" + k.Sub
}

// Less orders keys by full article, numeric article, stage, sub.
func (k Key) Less(o Key) bool {
	switch {
	case k.Article.Full != o.Article.Full:
		return k.Article.Full < o.Article.Full
	case k.Article.Numeric != o.Article.Numeric:
		return k.Article.Numeric < o.Article.Numeric
	case k.Stage != o.Stage:
		return k.Stage < o.Stage
	default:
		return k.Sub < o.Sub
	}
}

// Attribute is a named, already stringified value.
type Attribute struct {
	Name  string
	Value string
}

// Entry is a parameter or test line. Text, when set, is the rendered
// sentence; otherwise renderers build one from Key and Value.
type Entry struct {
	Key   string
	Value string
	Text  string
}

// LogicalRecord is the reduced view of every row sharing a key.
type LogicalRecord struct {
	Key        Key
	Source     string
	Attributes []Attribute
	Entries    []Entry
}

// Get returns the value of an attribute, or "".
func (r LogicalRecord) Get(name string) string {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// Has reports whether an attribute is present.
func (r LogicalRecord) Has(name string) bool {
	for _, a := range r.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// With returns a copy with name set to value. Empty values remove the
// attribute.
func (r LogicalRecord) With(name, value string) LogicalRecord {
	out := r.clone()
	for i, a := range out.Attributes {
		if a.Name == name {
			if value == "" {
				out.Attributes = append(out.Attributes[:i], out.Attributes[i+1:]...)
			} else {
				out.Attributes[i].Value = value
			}
			return out
		}
	}
	if value != "" {
		out.Attributes = append(out.Attributes, Attribute{Name: name, Value: value})
	}
	return out
}

// WithStage returns a copy carrying a different stage tag.
func (r LogicalRecord) WithStage(stage Stage) LogicalRecord {
	out := r.clone()
	out.Key.Stage = stage
	return out
}

func (r LogicalRecord) clone() LogicalRecord {
	out := r
	out.Attributes = append([]Attribute(nil), r.Attributes...)
	out.Entries = append([]Entry(nil), r.Entries...)
	return out
}
