package ingest

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/grouping"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/yarncode"
)

// Source tags. Chunks are emitted in this order.
const (
	SourceRoute   = "Route"
	SourceBOM     = "BOM"
	SourceQuality = "Quality"
)

// Sources lists every source tag in output order.
var Sources = []string{SourceRoute, SourceBOM, SourceQuality}

// ErrNoSources is returned when a run has no input workbooks at all.
var ErrNoSources = errors.New("no source workbooks configured")

// LoadedBook is one input workbook of a source.
type LoadedBook struct {
	Source string
	Path   string
	Book   *tabular.Workbook
}

// StageReport is the grouping outcome of one stage of a source.
type StageReport struct {
	Stage string
	Stats grouping.Stats
}

// SourceOutput is everything a source adapter produced.
type SourceOutput struct {
	Source string
	Chunks []chunking.Chunk
	Stages []StageReport
	// Rows counts the rows read per input path.
	Rows map[string]int
	// Unmapped counts codes no dictionary rule matched, per domain.
	Unmapped map[codedict.Domain]map[string]int
}

func newSourceOutput(source string) *SourceOutput {
	return &SourceOutput{
		Source:   source,
		Rows:     make(map[string]int),
		Unmapped: make(map[codedict.Domain]map[string]int),
	}
}

// UnmappedTotal sums unmapped code occurrences across domains.
func (o *SourceOutput) UnmappedTotal() int {
	n := 0
	for _, codes := range o.Unmapped {
		for _, c := range codes {
			n += c
		}
	}
	return n
}

// Converter holds what the source adapters share: the dictionary, the yarn
// parser, the chunk builder and the test renamer.
type Converter struct {
	dict    *codedict.Dictionary
	yarn    *yarncode.Parser
	builder *chunking.Builder
	renamer *codedict.TestNameRenamer
	logger  *observability.Logger
}

// NewConverter creates a converter. Nil arguments get defaults.
func NewConverter(dict *codedict.Dictionary, builder *chunking.Builder, logger *observability.Logger) *Converter {
	if dict == nil {
		dict = codedict.Default()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if builder == nil {
		builder = chunking.NewBuilder(nil, 0, logger)
	}
	return &Converter{
		dict:    dict,
		yarn:    yarncode.NewParser(dict),
		builder: builder,
		renamer: codedict.NewTestNameRenamer(),
		logger:  logger,
	}
}

// resolver wraps dictionary lookups and counts unmatched codes.
type resolver struct {
	dict     *codedict.Dictionary
	unmapped map[codedict.Domain]map[string]int
}

func (c *Converter) resolver(out *SourceOutput) *resolver {
	return &resolver{dict: c.dict, unmapped: out.Unmapped}
}

func (r *resolver) lookup(code string, domain codedict.Domain) codedict.Resolution {
	res := r.dict.Lookup(code, domain)
	if !res.Matched && strings.TrimSpace(code) != "" {
		m, ok := r.unmapped[domain]
		if !ok {
			m = make(map[string]int)
			r.unmapped[domain] = m
		}
		m[strings.TrimSpace(code)]++
	}
	return res
}

// resolve returns the label, or the normalized code when unmatched.
func (r *resolver) resolve(code string, domain codedict.Domain) string {
	return r.lookup(code, domain).Label
}

// resolveOr returns the label, or fallback when unmatched.
func (r *resolver) resolveOr(code string, domain codedict.Domain, fallback string) string {
	if res := r.lookup(code, domain); res.Matched {
		return res.Label
	}
	return fallback
}

// sheetOrOnly reads the first matching sheet. A single-sheet workbook (a
// CSV export) is read whatever its name.
func sheetOrOnly(book *tabular.Workbook, opts tabular.ReadOptions, names ...string) (*tabular.Sheet, error) {
	sheet, err := book.FirstSheet(opts, names...)
	if err == nil {
		return sheet, nil
	}
	if all := book.SheetNames(); len(all) == 1 {
		return book.Sheet(all[0], opts)
	}
	return nil, err
}

var parenthetical = regexp.MustCompile(`\(([^)]*)\)`)

// inParens returns the text of the first "(...)" group.
func inParens(s string) string {
	if m := parenthetical.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

var parentheticalWithSpace = regexp.MustCompile(`\s*\([^)]*\)`)

// withoutParens removes every "(...)" group.
func withoutParens(s string) string {
	return strings.TrimSpace(parentheticalWithSpace.ReplaceAllString(s, ""))
}

// runeFrom returns s from rune offset i, or "" when s is shorter.
func runeFrom(s string, i int) string {
	r := []rune(strings.TrimSpace(s))
	if i >= len(r) {
		return ""
	}
	return string(r[i:])
}

// runeAt returns the rune at offset i as a string.
func runeAt(s string, i int) string {
	r := []rune(strings.TrimSpace(s))
	if i >= len(r) {
		return ""
	}
	return string(r[i])
}

// runeHead returns the first n runes.
func runeHead(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if n > len(r) {
		n = len(r)
	}
	return string(r[:n])
}

// sentences renders "name is value" for every attribute in order.
func sentences(attrs []grouping.Attribute, nameFn func(string) string) []string {
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if strings.TrimSpace(a.Value) == "" {
			continue
		}
		name := a.Name
		if nameFn != nil {
			name = nameFn(name)
		}
		out = append(out, name+" is "+a.Value)
	}
	return out
}

// idCounter numbers chunks per prefix, starting at 1.
type idCounter map[string]int

func (c idCounter) next(prefix string) string {
	c[prefix]++
	return prefix + "_" + strconv.Itoa(c[prefix])
}

// idPart makes a label safe for use inside a chunk ID.
func idPart(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

func sortedDomains(m map[codedict.Domain]map[string]int) []codedict.Domain {
	out := make([]codedict.Domain, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
