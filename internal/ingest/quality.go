package ingest

import (
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/grouping"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/reconcile"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
)

// Quality sheet columns, plus the ones derived from the item number.
const (
	qualityColItem     = "Item number"
	qualityColTest     = "Test"
	qualityColUnit     = "Unit"
	qualityColMethod   = "Test method"
	qualityColStandard = "Standard"
	qualityColMin      = "Min"
	qualityColMax      = "Max"
	qualityColConfig   = "Configuration"
	qualityColDim1     = "Dimension 1"
	qualityColDim2     = "Dimension 2"

	qualityColArticle   = "article Number"
	qualityColStage     = "stage name"
	qualityColWarpFibre = "warp fibre"
	qualityColWeftFibre = "weft fibre"
)

// notSpecified stands in for blank quality values in text.
const notSpecified = "Not specified"

// Quality metadata keys.
const (
	qkWarpFibre       = "warp_fibre"
	qkWeftFibre       = "weft_fibre"
	qkSizing          = "sizing_details"
	qkWeave           = "weave"
	qkCalendaring     = "calendaring_details"
	qkShade           = "shade_of_fabric"
	qkFinish          = "finish"
	qkCoating         = "coating_formulation"
	qkFinishCalendar  = "finish_and_calendaring_details"
	qkPrintDesignName = "print_design_name"
	qkPrintName       = "print_name"
)

// qualityKeyAliases let split fragments keep intro metadata by the words
// the intro uses for it.
var qualityKeyAliases = map[string][]string{
	qkWarpFibre:       {"warp"},
	qkWeftFibre:       {"weft"},
	qkSizing:          {"sizing"},
	qkCalendaring:     {"calendaring"},
	qkShade:           {"shade"},
	qkCoating:         {"coating formulation"},
	qkFinishCalendar:  {"finish & calendaring", "calendaring"},
	qkPrintDesignName: {"print design"},
}

var qualityReadOptions = tabular.ReadOptions{Mode: tabular.HeaderMode}

// Quality converts quality test workbooks into chunks.
func (c *Converter) Quality(books []LoadedBook) (*SourceOutput, error) {
	out := newSourceOutput(SourceQuality)
	res := c.resolver(out)
	log := c.logger.WithSource(SourceQuality)

	// Step 1: read every sheet carrying item numbers
	var rows []tabular.Row
	for _, b := range books {
		found := 0
		for _, name := range b.Book.SheetNames() {
			if skipQualitySheet(name) {
				continue
			}
			sheet, err := b.Book.Sheet(name, qualityReadOptions)
			if err != nil {
				return nil, err
			}
			if !sheet.HasColumn(qualityColItem) {
				log.Debug().Str("path", b.Path).Str("sheet", name).Msg("No item numbers, skipping sheet")
				continue
			}
			if err := reconcile.RequireColumns(SourceQuality, sheet, qualityColTest); err != nil {
				return nil, err
			}
			found++
			out.Rows[b.Path] += len(sheet.Rows)
			for _, r := range sheet.Rows {
				rows = append(rows, c.deriveQualityRow(r, res))
			}
		}
		if found == 0 {
			log.Warn().Str("path", b.Path).Msg("No quality sheet with item numbers, skipping workbook")
		}
	}

	// Step 2: group per (article, stage, configuration, dimension 2)
	records, stats := grouping.Group(rows, c.qualitySpec())
	out.Stages = append(out.Stages, StageReport{Stage: "tests", Stats: stats})
	if n := stats.DroppedTotal(); n > 0 {
		log.Info().Int("rows", n).Interface("dropped", stats.Dropped).Msg("Dropped quality rows")
	}

	// Step 3: render
	ids := make(idCounter)
	for _, rec := range records {
		if len(rec.Entries) == 0 {
			continue
		}
		out.Chunks = append(out.Chunks, c.builder.Build(c.qualityDocument(rec, ids))...)
	}
	return out, nil
}

func skipQualitySheet(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.HasPrefix(n, "yarn") || strings.HasPrefix(n, "unknown") || n == "all_data"
}

// deriveQualityRow decodes the item number: [0] stage letter (a digit marks
// a yarn article), [2] warp fibre, [3] weft fibre, [4:] article.
func (c *Converter) deriveQualityRow(r tabular.Row, res *resolver) tabular.Row {
	item := r.Str(qualityColItem)
	if len([]rune(item)) < 5 {
		return r
	}
	lead := runeAt(item, 0)
	stage := ""
	if !unicode.IsDigit([]rune(lead)[0]) {
		stage = res.resolveOr(lead, codedict.DomainQualityStage, "")
	}
	warp, weft := runeAt(item, 2), runeAt(item, 3)
	return r.
		WithText(qualityColArticle, runeFrom(item, 4)).
		WithText(qualityColStage, stage).
		WithText(qualityColWarpFibre, res.resolveOr(warp, codedict.DomainFibre, "Unknown ("+strings.ToUpper(warp)+")")).
		WithText(qualityColWeftFibre, res.resolveOr(weft, codedict.DomainFibre, "Unknown ("+strings.ToUpper(weft)+")"))
}

// testingStage maps a quality stage sheet to its testing stage.
func testingStage(stage string) grouping.Stage {
	canon, _ := weavingAliases.Canonical(stage)
	return grouping.Stage("Testing After " + string(canon))
}

func (c *Converter) qualitySpec() grouping.Spec {
	return grouping.Spec{
		Source: SourceQuality,
		Key: func(r tabular.Row) (grouping.Key, bool) {
			return grouping.Key{
				Article: grouping.QualityArticle(r.Str(qualityColArticle)),
				Stage:   testingStage(r.Str(qualityColStage)),
				Sub:     r.Str(qualityColConfig) + "\x1f" + r.Str(qualityColDim2),
			}, true
		},
		Filters: []grouping.Filter{
			{Name: "item_number", Keep: func(r tabular.Row) bool { return r.Str(qualityColArticle) != "" }},
			{Name: "yarn_article", Keep: func(r tabular.Row) bool {
				lead := []rune(r.Str(qualityColItem))
				return len(lead) > 0 && !unicode.IsDigit(lead[0])
			}},
			{Name: "stage", Keep: func(r tabular.Row) bool { return r.Str(qualityColStage) != "" }},
			{Name: "test", Keep: func(r tabular.Row) bool { return r.Str(qualityColTest) != "" }},
		},
		Representative: []grouping.Field{
			grouping.Column(chunking.KeyOriginalStageName, qualityColStage),
			grouping.Column(qkWarpFibre, qualityColWarpFibre),
			grouping.Column(qkWeftFibre, qualityColWeftFibre),
			grouping.Column(qualityColConfig, qualityColConfig),
			grouping.Column(qualityColDim1, qualityColDim1),
			grouping.Column(qualityColDim2, qualityColDim2),
		},
		Entries: func(r tabular.Row) []grouping.Entry {
			return []grouping.Entry{c.testEntry(r)}
		},
	}
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}

// testEntry renders "{test} ({unit}) tested using '{method}' standard
// '{standard}' with expected range {min}–{max}." leaving out unknown parts.
func (c *Converter) testEntry(r tabular.Row) grouping.Entry {
	name := c.renamer.Rename(r.Str(qualityColTest), r.Str(qualityColStage))
	unit := orNotSpecified(r.Str(qualityColUnit))
	method := orNotSpecified(r.Str(qualityColMethod))
	standard := orNotSpecified(r.Str(qualityColStandard))
	lo := orNotSpecified(r.Str(qualityColMin))
	hi := orNotSpecified(r.Str(qualityColMax))

	var b strings.Builder
	b.WriteString(name)
	if unit != notSpecified {
		b.WriteString(" (" + unit + ")")
	}
	if method != notSpecified {
		b.WriteString(" tested using '" + method + "'")
	}
	if standard != notSpecified {
		b.WriteString(" standard '" + standard + "'")
	}
	if lo != notSpecified || hi != notSpecified {
		b.WriteString(" with expected range " + lo + "–" + hi)
	}
	b.WriteString(".")

	e := grouping.Entry{Key: name, Text: b.String()}
	if lo != notSpecified && hi != notSpecified {
		e.Value = lo + "–" + hi
	}
	return e
}

func (c *Converter) qualityDocument(rec grouping.LogicalRecord, ids idCounter) chunking.Document {
	full := rec.Key.Article.Full
	stage := rec.Key.Stage
	warp := orNotSpecified(rec.Get(qkWarpFibre))
	weft := orNotSpecified(rec.Get(qkWeftFibre))
	config := orNotSpecified(rec.Get(qualityColConfig))
	dim1 := orNotSpecified(rec.Get(qualityColDim1))
	dim2 := orNotSpecified(rec.Get(qualityColDim2))

	attrs := []grouping.Attribute{
		{Name: chunking.KeyOriginalStageName, Value: rec.Get(chunking.KeyOriginalStageName)},
		{Name: qkWarpFibre, Value: warp},
		{Name: qkWeftFibre, Value: weft},
	}
	set := func(k, v string) { attrs = append(attrs, grouping.Attribute{Name: k, Value: v}) }

	var intro strings.Builder
	intro.WriteString(chunking.IdentitySentence(rec.Key.Article, stage) + " ")
	if warp != notSpecified && weft != notSpecified {
		intro.WriteString("It uses " + warp + " for warp and " + weft + " for weft. ")
	}

	switch strings.TrimPrefix(string(stage), "Testing After ") {
	case string(grouping.StageWeaving):
		weave := c.dict.ResolveOr(rec.Get(qualityColDim2), codedict.DomainWeave, "Unknown")
		set(qkSizing, config)
		set(qkWeave, weave)
		intro.WriteString("It has sizing details '" + config + "' and weave type '" + weave + "'. ")
	case string(grouping.StageProcessing):
		set(qkCalendaring, config)
		set(qkShade, dim1)
		set(qkFinish, dim2)
		intro.WriteString("It has fabric shade '" + dim1 + "', calendaring details '" + config + "', and finish '" + dim2 + "'. ")
	case string(grouping.StageCoating):
		set(qkCoating, config)
		set(qkFinishCalendar, dim2)
		intro.WriteString("It has coating formulation '" + config + "' and finish & calendaring details '" + dim2 + "'. ")
	case string(grouping.StagePrinting):
		set(qkPrintDesignName, config)
		set(qkPrintName, dim1)
		set(qkFinish, dim2)
		intro.WriteString("It has print design '" + config + "', print name '" + dim1 + "', and finish '" + dim2 + "'. ")
	}

	items := make([]string, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		items = append(items, e.Text)
		if e.Value != "" {
			set(e.Key, e.Value)
		}
	}

	return chunking.Document{
		ID:         ids.next("Quality_" + idPart(strings.TrimPrefix(string(stage), "Testing After ")) + "_" + full),
		Stage:      stage,
		Article:    rec.Key.Article,
		Source:     SourceQuality,
		Intro:      intro.String(),
		Items:      items,
		Separator:  " ",
		Attributes: attrs,
		KeyAliases: qualityKeyAliases,
	}
}
