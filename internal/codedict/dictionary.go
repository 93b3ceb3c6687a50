// Package codedict resolves mill shorthand codes into readable labels.
//
// Each domain owns an ordered rule table. Rules are evaluated top to bottom
// and the first match wins, so specific rules must sit above the generic
// prefixes they overlap with. Resolution is total: an unmatched code comes
// back trimmed (and uppercased for case-folding tables).
package codedict

import (
	"regexp"
	"strings"
)

// Domain names a rule table.
type Domain string

const (
	DomainCoatingType         Domain = "coating_type"
	DomainFinishCoating       Domain = "finish_coating"
	DomainFinishProcessing    Domain = "finish_processing"
	DomainWeave               Domain = "weave"
	DomainComposition         Domain = "composition"
	DomainYarnType            Domain = "yarn_type"
	DomainTwistDirection      Domain = "twist_direction"
	DomainWeftTexture         Domain = "weft_texture"
	DomainWarpTexture         Domain = "warp_texture"
	DomainDullness            Domain = "dullness"
	DomainShrinkage           Domain = "shrinkage"
	DomainElongation          Domain = "elongation"
	DomainTenacity            Domain = "tenacity"
	DomainCalendaring         Domain = "calendaring"
	DomainFibre               Domain = "fibre"
	DomainBOMSheet            Domain = "bom_sheet"
	DomainRouteType           Domain = "route_type"
	DomainQualityStage        Domain = "quality_stage"
	DomainCoatingOperation    Domain = "coating_operation"
	DomainProcessingOperation Domain = "processing_operation"
	DomainPrintingOperation   Domain = "printing_operation"
	DomainBeamingOperation    Domain = "beaming_operation"
	DomainWarpingOperation    Domain = "warping_operation"
)

// RuleKind selects how a rule matches.
type RuleKind int

const (
	Exact RuleKind = iota
	Prefix
	Contains
	Pattern
)

// Rule maps codes to a label. Pattern labels may reference the first
// capture group as {1}.
type Rule struct {
	Kind    RuleKind
	Code    string
	Pattern *regexp.Regexp
	Label   string
}

// ExactRule matches the whole code.
func ExactRule(code, label string) Rule { return Rule{Kind: Exact, Code: code, Label: label} }

// PrefixRule matches codes starting with code.
func PrefixRule(code, label string) Rule { return Rule{Kind: Prefix, Code: code, Label: label} }

// ContainsRule matches codes containing code anywhere.
func ContainsRule(code, label string) Rule { return Rule{Kind: Contains, Code: code, Label: label} }

// PatternRule matches a regular expression. It panics on a bad pattern.
func PatternRule(pattern, label string) Rule {
	return Rule{Kind: Pattern, Code: pattern, Pattern: regexp.MustCompile(pattern), Label: label}
}

func (r Rule) match(s string) (string, bool) {
	switch r.Kind {
	case Exact:
		return r.Label, s == r.Code
	case Prefix:
		return r.Label, strings.HasPrefix(s, r.Code)
	case Contains:
		return r.Label, strings.Contains(s, r.Code)
	case Pattern:
		m := r.Pattern.FindStringSubmatch(s)
		if m == nil {
			return "", false
		}
		label := r.Label
		if len(m) > 1 {
			label = strings.ReplaceAll(label, "{1}", m[1])
		}
		return label, true
	}
	return "", false
}

// TableMode selects whole-value or token replacement resolution.
type TableMode int

const (
	// FirstMatch returns the label of the first matching rule.
	FirstMatch TableMode = iota
	// ReplaceTokens rewrites every Exact rule code found inside the value
	// in a single left-to-right scan. Replacements are never re-scanned.
	ReplaceTokens
)

// Table is an ordered rule list for one domain.
type Table struct {
	Domain   Domain
	Rules    []Rule
	FoldCase bool
	Mode     TableMode
}

// Resolution is the outcome of a lookup.
type Resolution struct {
	Label   string
	Matched bool
	// RuleIndex is the position of the winning rule, -1 when unmatched or
	// for token replacement.
	RuleIndex int
}

// Lookup resolves code against the table.
func (t *Table) Lookup(code string) Resolution {
	s := strings.TrimSpace(code)
	if t.FoldCase {
		s = strings.ToUpper(s)
	}

	if t.Mode == ReplaceTokens {
		out, n := t.replaceTokens(s)
		if n == 0 {
			return Resolution{Label: strings.ToUpper(s), RuleIndex: -1}
		}
		return Resolution{Label: out, Matched: true, RuleIndex: -1}
	}

	for i, r := range t.Rules {
		if label, ok := r.match(s); ok {
			return Resolution{Label: label, Matched: true, RuleIndex: i}
		}
	}
	return Resolution{Label: strings.ToUpper(s), RuleIndex: -1}
}

func (t *Table) replaceTokens(s string) (string, int) {
	var b strings.Builder
	replaced := 0
	for i := 0; i < len(s); {
		hit := false
		for _, r := range t.Rules {
			if r.Code != "" && strings.HasPrefix(s[i:], r.Code) {
				b.WriteString(r.Label)
				i += len(r.Code)
				replaced++
				hit = true
				break
			}
		}
		if !hit {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String(), replaced
}

// Dictionary is a read-only set of domain tables.
type Dictionary struct {
	tables map[Domain]*Table
}

// New builds a dictionary from tables. Later tables replace earlier ones
// for the same domain.
func New(tables ...*Table) *Dictionary {
	d := &Dictionary{tables: make(map[Domain]*Table, len(tables))}
	for _, t := range tables {
		d.tables[t.Domain] = t
	}
	return d
}

// Table returns the table for a domain.
func (d *Dictionary) Table(domain Domain) (*Table, bool) {
	t, ok := d.tables[domain]
	return t, ok
}

// Domains returns every registered domain.
func (d *Dictionary) Domains() []Domain {
	out := make([]Domain, 0, len(d.tables))
	for k := range d.tables {
		out = append(out, k)
	}
	return out
}

// Lookup resolves code in domain. An unknown domain behaves like an empty
// table.
func (d *Dictionary) Lookup(code string, domain Domain) Resolution {
	t, ok := d.tables[domain]
	if !ok {
		return Resolution{Label: strings.ToUpper(strings.TrimSpace(code)), RuleIndex: -1}
	}
	return t.Lookup(code)
}

// Resolve returns the label for code in domain, or the normalized code.
func (d *Dictionary) Resolve(code string, domain Domain) string {
	return d.Lookup(code, domain).Label
}

// ResolveOr returns the label when a rule matched, otherwise fallback.
func (d *Dictionary) ResolveOr(code string, domain Domain, fallback string) string {
	if r := d.Lookup(code, domain); r.Matched {
		return r.Label
	}
	return fallback
}
