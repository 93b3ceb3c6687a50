package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/grouping"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/reconcile"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/yarncode"
)

// Positional BOM columns.
const (
	bomColID       = "col_0"
	bomColItem     = "col_2"
	bomColLineItem = "col_10"
	bomColQty      = "col_15"
	bomColArticle  = "Article_No"
)

// bomReadOptions drop the title row, then the header row once empty
// columns are gone.
var bomReadOptions = tabular.ReadOptions{Mode: tabular.PositionalMode, SkipRows: 1, HeaderRows: 1}

// BOM converts bill-of-materials workbooks into chunks.
func (c *Converter) BOM(books []LoadedBook) (*SourceOutput, error) {
	out := newSourceOutput(SourceBOM)
	res := c.resolver(out)
	log := c.logger.WithSource(SourceBOM)

	// Step 1: read the BOM sheet of every workbook
	var rows []tabular.Row
	for _, b := range books {
		sheet, err := sheetOrOnly(b.Book, bomReadOptions, "BOM")
		if errors.Is(err, tabular.ErrSheetNotFound) {
			log.Warn().Str("path", b.Path).Msg("No BOM sheet, skipping workbook")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read BOM sheet of %s: %w", b.Path, err)
		}
		if err := reconcile.RequireColumns(SourceBOM, sheet, bomColID, bomColItem, bomColLineItem); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Path, err)
		}
		out.Rows[b.Path] = len(sheet.Rows)
		rows = append(rows, sheet.Rows...)
	}

	// Step 2: route rows to process sheets by BOM id prefix
	bySheet := make(map[grouping.Stage][]tabular.Row)
	routing := grouping.Stats{Input: len(rows), Dropped: make(map[string]int)}
	for _, row := range rows {
		sheet := res.resolveOr(runeHead(row.Str(bomColID), 2), codedict.DomainBOMSheet, "")
		if sheet == "" {
			routing.Dropped["sheet"]++
			continue
		}
		routing.Kept++
		row = row.WithText(bomColArticle, runeFrom(row.Str(bomColItem), 4))
		bySheet[grouping.Stage(sheet)] = append(bySheet[grouping.Stage(sheet)], row)
	}
	out.Stages = append(out.Stages, StageReport{Stage: "routing", Stats: routing})
	if n := routing.DroppedTotal(); n > 0 {
		log.Warn().Int("rows", n).Msg("Dropped BOM rows with unknown sheet prefix")
	}

	// Step 3: group each sheet
	group := func(stage grouping.Stage, spec grouping.Spec) []grouping.LogicalRecord {
		records, stats := grouping.Group(bySheet[stage], spec)
		out.Stages = append(out.Stages, StageReport{Stage: string(stage), Stats: stats})
		log.Debug().
			Str("stage", string(stage)).
			Int("input", stats.Input).
			Int("records", stats.Records).
			Int("dropped", stats.DroppedTotal()).
			Msg("Grouped BOM sheet")
		return records
	}
	warp := group(grouping.StageWarping, c.warpingSpec(res))
	griege := group(grouping.StageGriege, c.griegeSpec(res))
	processing := group(grouping.StageProcessing, processingSpec(res))
	coating := group(grouping.StageCoating, coatingSpec(res))

	// Step 4: merge warp and weft yarn details
	merged := reconcile.Merge(warp, griege, reconcile.JoinOptions{Stage: grouping.StageWarpWeft})
	for _, rec := range merged {
		out.Chunks = append(out.Chunks, c.builder.Build(warpWeftDocument(rec))...)
	}
	warpRest, griegeRest := unmerged(warp, griege)
	log.Info().
		Int("merged", len(merged)).
		Int("warp_unmerged", len(warpRest)).
		Int("weft_unmerged", len(griegeRest)).
		Msg("Merged warp and weft records")

	// Step 5: per-sheet chunks; leftover griege records become weft
	ids := make(idCounter)
	emit := func(records []grouping.LogicalRecord) {
		for _, rec := range records {
			out.Chunks = append(out.Chunks, c.builder.Build(sheetDocument(rec, ids))...)
		}
	}
	emit(warpRest)
	emit(reconcile.RelabelRecords(griegeRest, reconcile.DefaultStageAliases()))
	emit(processing)
	emit(coating)

	return out, nil
}

func bomKey(stage grouping.Stage) func(tabular.Row) (grouping.Key, bool) {
	return func(r tabular.Row) (grouping.Key, bool) {
		article := grouping.BOMArticle(r.Str(bomColArticle))
		if article.Full == "" {
			return grouping.Key{}, false
		}
		return grouping.Key{Article: article, Stage: stage, Sub: r.Str(bomColID)}, true
	}
}

func field(name string, fn func(tabular.Row) string) grouping.Field {
	return grouping.Field{Name: name, Value: fn}
}

// yarnFields decodes the line item yarn code into eight named fields: type,
// denier, count, filament, composition, twist, twist direction, ply.
func (c *Converter) yarnFields(names [8]string) []grouping.Field {
	decode := func(r tabular.Row) yarncode.YarnAttributes { return c.yarn.Decode(r.Str(bomColLineItem)) }
	return []grouping.Field{
		field(names[0], func(r tabular.Row) string { return decode(r).Type }),
		field(names[1], func(r tabular.Row) string { return decode(r).Denier }),
		field(names[2], func(r tabular.Row) string { return decode(r).Count }),
		field(names[3], func(r tabular.Row) string { return decode(r).Filament }),
		field(names[4], func(r tabular.Row) string { return decode(r).Composition }),
		field(names[5], func(r tabular.Row) string { return decode(r).Twist }),
		field(names[6], func(r tabular.Row) string { return decode(r).TwistDirection }),
		field(names[7], func(r tabular.Row) string { return decode(r).Ply }),
	}
}

func (c *Converter) warpingSpec(res *resolver) grouping.Spec {
	fields := []grouping.Field{
		grouping.Column("BOMId", bomColID),
		grouping.Column("ItemId", bomColItem),
		field("Type of Warping", func(r tabular.Row) string {
			switch {
			case strings.HasPrefix(r.Str(bomColItem), "E"):
				return "Sectional warping"
			case strings.HasPrefix(r.Str(bomColItem), "A"):
				return "Direct warping"
			}
			return ""
		}),
	}
	fields = append(fields, c.yarnFields([8]string{
		"Warp Yarn Type", "Warp Denier", "Warp Count", "Filament in Warp yarn",
		"Fibre in Warp", "Number of twist in Warp yarn", "Twist direction in warp yarn", "Ply in warp yarn",
	})...)
	fields = append(fields,
		field("Drawing and texturing in Warp Yarn", func(r tabular.Row) string { return c.yarn.ResolveTexture(r.Str("col_11")) }),
		grouping.Column("Shade of Warp Yarn", "col_4"),
		field("Shade code of warp", func(r tabular.Row) string { s, _ := yarncode.ShadeCodes(r.Str("col_13")); return s }),
		field("Dullness/Brightness of warp", func(r tabular.Row) string {
			_, d := yarncode.ShadeCodes(r.Str("col_13"))
			return res.resolve(d, codedict.DomainDullness)
		}),
		field("Warp Yarn Shrinkage", func(r tabular.Row) string {
			s, _, _ := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolve(s, codedict.DomainShrinkage)
		}),
		field("Warp Yarn Elongation", func(r tabular.Row) string {
			_, e, _ := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolve(e, codedict.DomainElongation)
		}),
		field("warp Yarn Tenacity", func(r tabular.Row) string {
			_, _, t := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolve(t, codedict.DomainTenacity)
		}),
		grouping.Column("Total Ends", "col_5"),
		field("Reed space", func(r tabular.Row) string { reed, _ := yarncode.SplitReedSpace(r.Str("col_6")); return reed }),
		field("Number of Beams", func(r tabular.Row) string { _, beams := yarncode.SplitReedSpace(r.Str("col_6")); return beams }),
		grouping.Column("Warp yarn vendor", "col_12"),
	)

	return grouping.Spec{
		Source: SourceBOM,
		Key:    bomKey(grouping.StageWarping),
		Filters: []grouping.Filter{{
			Name: "warping_item",
			Keep: func(r tabular.Row) bool {
				item := r.Str(bomColItem)
				return strings.HasPrefix(item, "E") || strings.HasPrefix(item, "A")
			},
		}},
		Representative: fields,
	}
}

func (c *Converter) griegeSpec(res *resolver) grouping.Spec {
	fields := []grouping.Field{
		grouping.Column("BOMId", bomColID),
		grouping.Column("ItemId", bomColItem),
		grouping.Column("Weft Yarn Sizing details", "col_3"),
		field("Weave of fabric", func(r tabular.Row) string { return res.resolve(r.Str("col_5"), codedict.DomainWeave) }),
		grouping.Column("Width of griege fabric", "col_6"),
	}
	fields = append(fields, c.yarnFields([8]string{
		"Weft Yarn Type", "Weft Denier", "Weft Count", "Filament in Weft Yarn",
		"Fibre in Weft", "Number of twist in Weft yarn", "Twist direction in Weft yarn", "Ply in Weft yarn",
	})...)
	fields = append(fields,
		field("Drawing and texturing in Weft Yarn", func(r tabular.Row) string {
			return res.resolve(r.Str("col_11"), codedict.DomainWeftTexture)
		}),
		field("Shade Code of Weft", func(r tabular.Row) string { s, _ := yarncode.ShadeCodes(r.Str("col_13")); return s }),
		field("Weft Yarn Brightness", func(r tabular.Row) string {
			_, d := yarncode.ShadeCodes(r.Str("col_13"))
			return res.resolveOr(d, codedict.DomainDullness, "")
		}),
		field("Weft Yarn Shrinkage", func(r tabular.Row) string {
			s, _, _ := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolveOr(s, codedict.DomainShrinkage, "")
		}),
		field("Weft Yarn Elongation", func(r tabular.Row) string {
			_, e, _ := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolveOr(e, codedict.DomainElongation, "")
		}),
		field("Weft Yarn Tenacity", func(r tabular.Row) string {
			_, _, t := yarncode.PropertyCodes(r.Str("col_14"))
			return res.resolveOr(t, codedict.DomainTenacity, "")
		}),
		grouping.Column("Weft yarn vendor", "col_12"),
	)

	return grouping.Spec{
		Source: SourceBOM,
		Key:    bomKey(grouping.StageGriege),
		Filters: []grouping.Filter{{
			Name: "warp_line_item",
			Keep: func(r tabular.Row) bool {
				item := r.Str(bomColLineItem)
				return !strings.Contains(item, "BW") && !strings.Contains(item, "EW")
			},
		}},
		Representative: fields,
	}
}

func processingSpec(res *resolver) grouping.Spec {
	return grouping.Spec{
		Source: SourceBOM,
		Key:    bomKey(grouping.StageProcessing),
		Filters: []grouping.Filter{{
			Name: "greige_chemical",
			Keep: func(r tabular.Row) bool { return !strings.HasPrefix(r.Str(bomColLineItem), "GW") },
		}},
		Representative: []grouping.Field{grouping.Column("BOMId", bomColID)},
		Descriptive: []grouping.Field{
			field("Process Name", func(r tabular.Row) string { return withoutParens(r.Str("col_1")) }),
			field("Machine used for processing", func(r tabular.Row) string { return inParens(r.Str("col_1")) }),
			field("Calendaring", func(r tabular.Row) string { return res.resolve(r.Str("col_3"), codedict.DomainCalendaring) }),
			grouping.Column("Required Shade", "col_4"),
			field("Type of Finish", func(r tabular.Row) string { return res.resolve(r.Str("col_5"), codedict.DomainFinishProcessing) }),
			grouping.Column("Width in cm", "col_6"),
		},
		Itemized: []grouping.ItemSet{{
			Name: "Chemicals Used",
			Item: func(r tabular.Row) grouping.Item {
				return grouping.Item{Primary: r.Str(bomColLineItem), Vendor: r.Str("col_12"), Quantity: r.Str(bomColQty)}
			},
			Format: grouping.ProcessingItem,
		}},
	}
}

func coatingSpec(res *resolver) grouping.Spec {
	return grouping.Spec{
		Source: SourceBOM,
		Key:    bomKey(grouping.StageCoating),
		Filters: []grouping.Filter{{
			Name: "wash_chemical",
			Keep: func(r tabular.Row) bool {
				item := r.Str(bomColLineItem)
				return !strings.HasPrefix(item, "PW") && !strings.HasPrefix(item, "DW")
			},
		}},
		Representative: []grouping.Field{grouping.Column("BOMId", bomColID)},
		Descriptive: []grouping.Field{
			field("Type of Coating", func(r tabular.Row) string { return res.resolve(r.Str("col_3"), codedict.DomainCoatingType) }),
			grouping.Column("Shade", "col_4"),
			field("Type of Finish", func(r tabular.Row) string { return res.resolve(r.Str("col_5"), codedict.DomainFinishCoating) }),
			grouping.Column("Width After Coating", "col_6"),
		},
		Itemized: []grouping.ItemSet{{
			Name: "Coating Chemicals",
			Item: func(r tabular.Row) grouping.Item {
				return grouping.Item{
					Primary:  r.Str(bomColLineItem),
					Vendor:   r.Str("col_12"),
					Usage:    r.Str("col_14"),
					Quantity: r.Str(bomColQty),
				}
			},
			Format: grouping.CoatingItem,
		}},
	}
}

// unmerged returns the records Merge did not consume: everything except
// the first record per numeric article present on both sides.
func unmerged(warp, griege []grouping.LogicalRecord) (warpRest, griegeRest []grouping.LogicalRecord) {
	firstWarp := firstIndexByNumeric(warp)
	firstGriege := firstIndexByNumeric(griege)

	for i, rec := range warp {
		n := rec.Key.Article.Numeric
		if _, both := firstGriege[n]; both && firstWarp[n] == i {
			continue
		}
		warpRest = append(warpRest, rec)
	}
	for i, rec := range griege {
		n := rec.Key.Article.Numeric
		if _, both := firstWarp[n]; both && firstGriege[n] == i {
			continue
		}
		griegeRest = append(griegeRest, rec)
	}
	return warpRest, griegeRest
}

// firstIndexByNumeric expects records sorted by key, as Group returns them.
func firstIndexByNumeric(records []grouping.LogicalRecord) map[string]int {
	out := make(map[string]int, len(records))
	for i, rec := range records {
		n := rec.Key.Article.Numeric
		if n == "" {
			continue
		}
		if _, ok := out[n]; !ok {
			out[n] = i
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// warpWeftDocument renders a merged warp and weft record.
func warpWeftDocument(rec grouping.LogicalRecord) chunking.Document {
	full := rec.Key.Article.Full
	intro := fmt.Sprintf(
		"For article %s, the warp yarn denier is %s and weft yarn denier is %s; the warp yarn twist is %s and the weft yarn twist is %s. Additional parameters recorded are: ",
		full,
		orUnknown(rec.Get("Warp Denier")),
		orUnknown(rec.Get("Weft Denier")),
		orUnknown(rec.Get("Number of twist in Warp yarn")),
		orUnknown(rec.Get("Number of twist in Weft yarn")),
	)
	return chunking.Document{
		ID:         "Warping_Weft_" + full,
		Stage:      grouping.StageWarpWeft,
		Article:    rec.Key.Article,
		Source:     SourceBOM,
		Intro:      intro,
		Items:      sentences(rec.Attributes, func(n string) string { return reconcile.StripSuffix(n) }),
		Separator:  "; ",
		Terminator: ".",
		Attributes: append(append([]grouping.Attribute(nil), rec.Attributes...),
			grouping.Attribute{Name: chunking.KeySheet, Value: string(grouping.StageWarpWeft)}),
	}
}

// sheetDocument renders a single-sheet BOM record.
func sheetDocument(rec grouping.LogicalRecord, ids idCounter) chunking.Document {
	sheet := string(rec.Key.Stage)
	full := rec.Key.Article.Full
	return chunking.Document{
		ID:         ids.next(idPart(sheet) + "_" + full),
		Stage:      rec.Key.Stage,
		Article:    rec.Key.Article,
		Source:     SourceBOM,
		Intro:      "In the " + sheet + " process of article " + full + ", the following parameters were recorded: ",
		Items:      sentences(rec.Attributes, nil),
		Separator:  "; ",
		Terminator: ".",
		Attributes: append(append([]grouping.Attribute(nil), rec.Attributes...),
			grouping.Attribute{Name: chunking.KeySheet, Value: sheet}),
	}
}
