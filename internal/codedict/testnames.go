package codedict

import (
	"regexp"
	"strings"
	"sync"
)

var (
	reAirPermeability  = regexp.MustCompile(`AP@([\w\s/]+)\s*\(([^)]+)\)`)
	reAbrasion         = regexp.MustCompile(`(?i)Resi[s.]*\.?([\w\s]+)?/(\d+Kpa)`)
	reAbrasionPressure = regexp.MustCompile(`(\d+Kpa)`)
	reAbrasionCycles   = regexp.MustCompile(`(?i)cycles?-?([\d,]+)`)
	reBreaking         = regexp.MustCompile(`(?i)^BS-(Wp|Wt|Yarn)\s*([a-zA-Z/]+)?`)
	reBursting         = regexp.MustCompile(`(?i)^Burst St\s+([a-zA-Z0-9/²]+)`)
	reColourFastness   = regexp.MustCompile(`^CF-(.+)`)
	reDEValues         = regexp.MustCompile(`^DE Values-(.+)`)
	reThickness        = regexp.MustCompile(`^Thick\s+([^\s()]+)(?:\s+\(([^)]+)\))?`)
	reThreadCount      = regexp.MustCompile(`^Thrd Count-([Ww][pt])\s*([^\s()]+)?(?:\s+\(([^)]+)\))?`)
	reWickingMinutes   = regexp.MustCompile(`(?i)after(\d+)min`)
	reWPConditions     = regexp.MustCompile(`\((.*?)\)`)
	reWPTemp           = regexp.MustCompile(`(?i)(\d+)\s*c`)
	reWPTime           = regexp.MustCompile(`(?i)(\d+)(sec|s|m|h)`)
	reWPPressure       = regexp.MustCompile(`(?i)(\d*\.?\d+)\s*(bar|pa|mm|cm)`)
	reDSWashes         = regexp.MustCompile(`After (.+?) wash`)
	reDSHeat           = regexp.MustCompile(`@ (.+?)-`)
	reElongPrefix      = regexp.MustCompile(`%Elong[-.]?`)
)

type replacement struct {
	short string
	full  string
}

// cfReplacements is matched by prefix, in order.
var cfReplacements = []replacement{
	{"Rub-Dry", "Colourfastness to Rubbing (Dry)"},
	{"Rub-Wet", "Colourfastness to Rubbing (Wet)"},
	{"Wash-Ch in Shade", "Colourfastness to Washing Change in Shade"},
	{"Wash-St on", "Colourfastness to Washing Staining on"},
	{"Water-Ch in Shade", "Colourfastness to Water Change in Shade"},
	{"Water-St on", "Colourfastness to Water Staining on"},
	{"Sea Water-Ch in Shade", "Colourfastness to Sea Water Change in Shade"},
	{"Sea Water-St on", "Colourfastness to Sea Water Staining on"},
	{"Pers-Acid-Ch in Shade", "Colourfastness to Perspiration (Acid) Change in Shade"},
	{"Pers-Acid-St on", "Colourfastness to Perspiration (Acid) Staining on"},
	{"Pers-Alkaline-Ch in Shade", "Colourfastness to Perspiration (Alkaline) Change in Shade"},
	{"Pers-Alkaline-St on", "Colourfastness to Perspiration (Alkaline) Staining on"},
	{"Pers-Ch in Shade", "Colourfastness to Perspiration Change in Shade"},
	{"Pers-St on", "Colourfastness to Perspiration Staining on"},
}

var dsWaterTests = []replacement{
	{"Cold Water -Wp", "Dimensional stability of warp in cold water"},
	{"Cold Water -Wt", "Dimensional stability of weft in cold water"},
	{"Hot Water -Wp", "Dimensional stability of warp in hot water"},
	{"Hot Water -Wt", "Dimensional stability of weft in hot water"},
	{"Hot Water -Yarn", "Dimensional stability of yarn in hot water"},
}

// SheetPrefixes maps quality stage sheets to the adjective placed before a
// renamed test.
var SheetPrefixes = map[string]string{
	"Griege":     "Grey",
	"Processing": "Processed",
	"Printing":   "Printed",
	"Coating":    "Coated",
}

type testParser struct {
	prefix string
	parse  func(string) (string, bool)
}

type renameKey struct {
	name  string
	sheet string
}

// TestNameRenamer expands quality test short names such as "TS-Wp N" into
// full names. Results are memoized per (name, sheet).
type TestNameRenamer struct {
	parsers []testParser

	mu   sync.Mutex
	memo map[renameKey]string
}

// NewTestNameRenamer returns a renamer with the standard parser list.
func NewTestNameRenamer() *TestNameRenamer {
	return &TestNameRenamer{
		parsers: []testParser{
			{"AP@", parseAirPermeability},
			{"%Elong", parseFabricElongation},
			{"BS-", parseBreakingStrength},
			{"Burst St", parseBurstingStrength},
			{"CF", parseColourFastness},
			{"DE Values", parseDEValue},
			{"DS", parseDimensionalStability},
			{"TS-", parseTearStrength},
			{"Thick", parseThickness},
			{"Thrd Count", parseThreadCount},
		},
		memo: make(map[renameKey]string),
	}
}

// Rename returns the full test name, prefixed by the sheet adjective when
// the sheet is known. Unmapped names come back unchanged.
func (r *TestNameRenamer) Rename(name, sheet string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	key := renameKey{name: name, sheet: sheet}

	r.mu.Lock()
	if v, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	result := name
	if full, ok := r.route(name); ok {
		result = full
		if prefix, ok := SheetPrefixes[sheet]; ok {
			result = prefix + " " + full
		}
	}

	r.mu.Lock()
	r.memo[key] = result
	r.mu.Unlock()
	return result
}

// Mapped reports whether a parser recognizes name.
func (r *TestNameRenamer) Mapped(name string) bool {
	_, ok := r.route(strings.TrimSpace(name))
	return ok
}

func (r *TestNameRenamer) route(name string) (string, bool) {
	for _, p := range r.parsers {
		if strings.HasPrefix(name, p.prefix) {
			return p.parse(name)
		}
	}

	lower := strings.ToLower(name)
	switch {
	case lower == "cf to light":
		return "Colour fastness to light", true
	case hasAnyPrefix(lower, "abra resi", "abra resis", "abra wool", "abrasion"):
		return parseAbrasion(name), true
	case strings.Contains(name, "WP") && (strings.Contains(name, "(") || strings.Contains(name, "WeldZone")):
		return parseWaterProofness(name), true
	case strings.Contains(name, "Wicking") || strings.Contains(name, "WH"):
		return parseWickingHeight(name), true
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func parseAirPermeability(name string) (string, bool) {
	m := reAirPermeability.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return "Air permeability at " + strings.TrimSpace(m[1]) + " pressure in " + strings.TrimSpace(m[2]), true
}

func parseFabricElongation(name string) (string, bool) {
	desc := "Fabric elongation"
	if strings.Contains(name, "-Wp") {
		desc += " in warp direction"
	} else if strings.Contains(name, "-Wt") {
		desc += " in weft direction"
	}
	if extra := strings.TrimSpace(reElongPrefix.ReplaceAllString(name, "")); extra != "" {
		desc += " (" + extra + ")"
	}
	return desc, true
}

func parseAbrasion(name string) string {
	var abradant, pressure string
	if m := reAbrasion.FindStringSubmatch(name); m != nil {
		abradant = strings.TrimSpace(m[1])
		pressure = m[2]
	}
	if abradant == "" && strings.Contains(strings.ToLower(name), "wool") {
		abradant = "Wool"
	}
	if pressure == "" {
		if m := reAbrasionPressure.FindStringSubmatch(name); m != nil {
			pressure = m[1]
		} else {
			pressure = "unspecified pressure"
		}
	}

	cycles := "unspecified number of"
	if m := reAbrasionCycles.FindStringSubmatch(name); m != nil {
		cycles = strings.TrimSpace(strings.ReplaceAll(m[1], ",", ""))
	} else if strings.Contains(strings.ToLower(name), "cycle") {
		cycles = "1"
	}

	if abradant == "" {
		abradant = "unspecified abradant"
	}
	return "Abrasion resistance using " + abradant + " at " + pressure + " after " + cycles + " cycles"
}

func parseBreakingStrength(name string) (string, bool) {
	m := reBreaking.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	direction := map[string]string{"wp": "Warp", "wt": "Weft", "yarn": "Yarn"}[strings.ToLower(m[1])]
	unit := strings.TrimSpace(m[2])
	if unit == "" {
		unit = "unknown unit"
	}
	return "Breaking strength of " + direction + " in " + unit, true
}

func parseBurstingStrength(name string) (string, bool) {
	m := reBursting.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	unit := strings.ReplaceAll(strings.TrimSpace(m[1]), "cm2", "cm²")
	return "Bursting strength in " + unit, true
}

func parseColourFastness(name string) (string, bool) {
	m := reColourFastness.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	desc := m[1]

	switch desc {
	case "Rub-Dry-Wp", "Rub-Dry-Wt", "Rub-Wet-Wp", "Rub-Wet-Wt":
		side := "Weft"
		if strings.Contains(desc, "Wp") {
			side = "Warp"
		}
		cond := "Wet"
		if strings.Contains(desc, "Dry") {
			cond = "Dry"
		}
		return "Colourfastness to Rubbing (" + cond + ") on " + side, true
	}

	for _, r := range cfReplacements {
		if strings.HasPrefix(desc, r.short) {
			material := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(desc, r.short, ""), "-", " "))
			return strings.TrimSpace(r.full + " " + material), true
		}
	}
	return "", false
}

func parseDEValue(name string) (string, bool) {
	if strings.TrimSpace(name) == "DE Values" {
		return "Delta E (ΔE) value", true
	}
	m := reDEValues.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return "Delta E (ΔE) under " + strings.TrimSpace(m[1]), true
}

func direction(name string) string {
	switch {
	case strings.Contains(name, "-Wp"):
		return "warp"
	case strings.Contains(name, "-Wt"):
		return "weft"
	default:
		return "unknown"
	}
}

func parseDimensionalStability(name string) (string, bool) {
	if strings.Contains(name, "After") {
		if m := reDSWashes.FindStringSubmatch(name); m != nil {
			return "Dimensional stability of " + direction(name) + " after " + m[1] + " washes", true
		}
	}

	for _, w := range dsWaterTests {
		if strings.Contains(name, w.short) {
			return w.full, true
		}
	}

	if strings.Contains(name, "to Heat") {
		at := ""
		if m := reDSHeat.FindStringSubmatch(name); m != nil {
			at = " at " + m[1]
		}
		switch {
		case strings.Contains(name, "-Wp"):
			return "Dimensional stability of warp to heat" + at, true
		case strings.Contains(name, "-Wt"):
			return "Dimensional stability of weft to heat" + at, true
		case strings.Contains(name, "-Yarn"):
			return "Dimensional stability of yarn to heat" + at, true
		}
	}
	return "", false
}

func parseTearStrength(name string) (string, bool) {
	unit := "Unknown unit"
	if fields := strings.Fields(name); strings.Contains(name, " ") && len(fields) > 0 {
		unit = fields[len(fields)-1]
	}
	switch {
	case strings.HasPrefix(name, "TS-Elm-Wp"):
		return "Tear strength of warp using Elmendorf method in " + unit, true
	case strings.HasPrefix(name, "TS-Elm-Wt"):
		return "Tear strength of weft using Elmendorf method in " + unit, true
	case strings.HasPrefix(name, "TS-Wp"):
		return "Tear strength of warp in " + unit, true
	case strings.HasPrefix(name, "TS-Wt"):
		return "Tear strength of weft in " + unit, true
	}
	return "", false
}

func parseThickness(name string) (string, bool) {
	m := reThickness.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	out := "Thickness in " + m[1]
	if m[2] != "" {
		out += " at " + m[2]
	}
	return out, true
}

func parseThreadCount(name string) (string, bool) {
	m := reThreadCount.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	kind := "Picks"
	if strings.ToLower(m[1]) == "wp" {
		kind = "Ends"
	}
	unit := m[2]
	if unit == "" {
		unit = "unspecified unit"
	}
	out := kind + " per " + unit
	if m[3] != "" {
		out += " at " + m[3]
	}
	return out, true
}

var wpTimeUnits = map[string]string{"sec": "seconds", "s": "seconds", "m": "minutes", "h": "hour(s)"}

func parseWaterProofness(name string) string {
	prefix := "Water proofness"
	if strings.Contains(name, "WeldZone") {
		prefix = "Water proofness of weld zone"
	}

	m := reWPConditions.FindStringSubmatch(name)
	if m == nil {
		return prefix
	}
	inside := strings.ToLower(m[1])

	out := prefix
	if t := reWPTemp.FindStringSubmatch(inside); t != nil {
		out += " tested at " + t[1] + "°C"
	}
	if tm := reWPTime.FindStringSubmatch(inside); tm != nil {
		unit, ok := wpTimeUnits[tm[2]]
		if !ok {
			unit = tm[2]
		}
		out += " for " + tm[1] + " " + unit
	} else if p := reWPPressure.FindStringSubmatch(inside); p != nil {
		out += " with minimum pressure of " + p[1] + " " + p[2]
	} else if strings.Contains(inside, "dynamic") {
		out += " using dynamic method"
	}
	return out
}

func parseWickingHeight(name string) string {
	clean := strings.ToLower(strings.NewReplacer(" ", "", ".", "").Replace(name))
	method := "original"
	if strings.Contains(clean, "5xhl") {
		method = "5xHL"
	}
	out := "Wicking height using " + method + " method in " + direction(name) + " direction"
	if m := reWickingMinutes.FindStringSubmatch(name); m != nil {
		out += " after " + m[1] + " minutes"
	}
	return out
}
