// Package yarncode decodes the 19 character yarn identifier used on BOM
// line items and cleans the companion yarn columns.
//
// Layout: [0] yarn type, [1:6] denier, [6:10] filament, [10:13]
// composition, [13:16] twist count, [16] twist direction, [17:19] ply.
package yarncode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
)

// CodeLength is the only length that decodes to non-empty fields.
const CodeLength = 19

// YarnAttributes is a decoded yarn identifier. Raw slices are kept next to
// their cleaned and resolved forms.
type YarnAttributes struct {
	Valid bool

	TypeSymbol string
	Type       string

	RawDenier string
	Denier    string
	Count     string

	Filament string

	CompositionCode string
	Composition     string

	Twist string

	TwistDirectionSymbol string
	TwistDirection       string

	Ply string
}

// Parser decodes yarn identifiers using a code dictionary.
type Parser struct {
	dict *codedict.Dictionary
}

// NewParser creates a parser. A nil dictionary uses codedict.Default().
func NewParser(dict *codedict.Dictionary) *Parser {
	if dict == nil {
		dict = codedict.Default()
	}
	return &Parser{dict: dict}
}

// Decode slices and cleans a yarn identifier. It never fails: any input
// whose trimmed length is not 19 yields empty attributes.
func (p *Parser) Decode(code string) YarnAttributes {
	r := []rune(strings.TrimSpace(code))
	if len(r) != CodeLength {
		return YarnAttributes{}
	}

	a := YarnAttributes{
		Valid:                true,
		TypeSymbol:           string(r[0]),
		RawDenier:            string(r[1:6]),
		CompositionCode:      string(r[10:13]),
		TwistDirectionSymbol: string(r[16]),
		Ply:                  string(r[17:19]),
	}
	a.Type = p.dict.Resolve(a.TypeSymbol, codedict.DomainYarnType)
	a.Denier, a.Count = CleanDenier(a.RawDenier)
	a.Filament = StripZeros(string(r[6:10]))
	a.Composition = p.dict.Resolve(a.CompositionCode, codedict.DomainComposition)
	a.Twist = StripZeros(string(r[13:16]))
	a.TwistDirection = p.dict.Resolve(a.TwistDirectionSymbol, codedict.DomainTwistDirection)
	return a
}

var decimalRe = regexp.MustCompile(`^\d+\.\d+$`)

// CleanDenier splits a denier field into (denier, count). A plied count
// such as "02/24" becomes ("", "24 Ne of 2 ply"); an all-digit value loses
// its leading zeros; anything else, decimals included, is dropped.
func CleanDenier(value string) (denier, count string) {
	v := strings.TrimSpace(value)

	if primary, _, ok := SplitAnnotated(v); ok {
		v = primary
	}

	if plyStr, countStr, ok := strings.Cut(v, "/"); ok && !strings.Contains(countStr, "/") {
		if isDigits(plyStr) && isDigits(countStr) {
			ply, _ := strconv.Atoi(plyStr)
			cnt, _ := strconv.Atoi(countStr)
			return "", strconv.Itoa(cnt) + " Ne of " + strconv.Itoa(ply) + " ply"
		}
	}

	if decimalRe.MatchString(v) || !isDigits(v) {
		return "", ""
	}
	return StripZeros(v), ""
}

// SplitAnnotated splits "value (note)" into the bracket-free value and the
// annotation. ok is false when there is no complete bracket pair.
func SplitAnnotated(value string) (primary, annotation string, ok bool) {
	open := strings.Index(value, "(")
	if open < 0 {
		return strings.TrimSpace(value), "", false
	}
	end := strings.Index(value[open:], ")")
	if end < 0 {
		return strings.TrimSpace(value), "", false
	}
	return strings.TrimSpace(value[:open]), strings.TrimSpace(value[open+1 : open+end]), true
}

// StripZeros removes leading zeros; an all-zero value collapses to "0".
func StripZeros(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	out := strings.TrimLeft(v, "0")
	if out == "" {
		return "0"
	}
	return out
}

// TextureCodes renders a drawing/texturing column as "{first3} / {last3}".
func TextureCodes(value string) string {
	r := []rune(strings.TrimSpace(value))
	if len(r) == 0 {
		return ""
	}
	head, tail := r, r
	if len(r) > 3 {
		head, tail = r[:3], r[len(r)-3:]
	}
	return string(head) + " / " + string(tail)
}

// ResolveTexture resolves both halves of a TextureCodes value with the
// warp texture table.
func (p *Parser) ResolveTexture(value string) string {
	first, last, ok := strings.Cut(TextureCodes(value), " / ")
	if !ok {
		return ""
	}
	return p.dict.Resolve(first, codedict.DomainWarpTexture) + " / " + p.dict.Resolve(last, codedict.DomainWarpTexture)
}

// ShadeCodes splits a shade column into shade code and dullness code.
func ShadeCodes(value string) (shade, dullness string) {
	r := []rune(strings.TrimSpace(value))
	return runeSlice(r, 0, 2), runeSlice(r, 2, 4)
}

// PropertyCodes splits a properties column into shrinkage, elongation and
// tenacity codes.
func PropertyCodes(value string) (shrinkage, elongation, tenacity string) {
	r := []rune(strings.TrimSpace(value))
	return runeSlice(r, 0, 2), runeSlice(r, 2, 4), runeSlice(r, 4, 6)
}

var numberRe = regexp.MustCompile(`[\d.]+`)

// SplitReedSpace decides whether a warping column holds a reed space (a
// measurement with ' or " or a number above 20) or a number of beams.
func SplitReedSpace(value string) (reedSpace, beams string) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", ""
	}
	n := 0.0
	if m := numberRe.FindString(v); m != "" {
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return v, ""
		}
		n = f
	}
	if strings.ContainsAny(v, `'"`) || n > 20 {
		return v, ""
	}
	return "", v
}

func runeSlice(r []rune, from, to int) string {
	if from >= len(r) {
		return ""
	}
	if to > len(r) {
		to = len(r)
	}
	return string(r[from:to])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
