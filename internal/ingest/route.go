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
)

// Route and machine parameter columns.
const (
	routeColID        = "Route Id"
	routeColItem      = "Item Id"
	routeColConfig    = "Config ID"
	routeColDim2      = "Dim2"
	routeColName      = "Route Name"
	routeColType      = "Route Type"
	routeColOperation = "Opr Id"
	routeColParamType = "Parameter Type"
	routeColParamName = "Name"
	routeColMin       = "Standard Min"
	routeColMax       = "Standard Max"
	routeColUnit      = "Unit"
)

// routeJoinColumns are copied from the first route row onto each machine row.
var routeJoinColumns = []string{routeColItem, routeColConfig, routeColDim2, routeColName}

var routeReadOptions = tabular.ReadOptions{Mode: tabular.HeaderMode, SkipRows: 1}

// routeTypes in output order.
var routeTypes = []grouping.Stage{
	grouping.StageDirectWarping,
	grouping.StageProcessing,
	grouping.StageBeaming,
	grouping.StageSectionalWarping,
	grouping.StageGriege,
	grouping.StagePrinting,
	grouping.StageCoating,
}

// weavingAliases name griege route and quality stages after weaving.
var weavingAliases = reconcile.StageAliases{"Griege": grouping.StageWeaving}

// operationDomains resolve Opr Id into a stage name per route type.
var operationDomains = map[grouping.Stage]codedict.Domain{
	grouping.StageProcessing:       codedict.DomainProcessingOperation,
	grouping.StageCoating:          codedict.DomainCoatingOperation,
	grouping.StagePrinting:         codedict.DomainPrintingOperation,
	grouping.StageBeaming:          codedict.DomainBeamingOperation,
	grouping.StageDirectWarping:    codedict.DomainWarpingOperation,
	grouping.StageSectionalWarping: codedict.DomainWarpingOperation,
}

// preferredMachineTypes are processing parameter types whose rows are keyed
// by parameter name rather than by type.
var preferredMachineTypes = map[string]bool{
	"manzel washer":     true,
	"menzel washer":     true,
	"stenter drying":    true,
	"stenter heat set":  true,
	"jigger":            true,
	"stenter finishing": true,
	"calendaring":       true,
	"stenter curing":    true,
}

// Route converts route workbooks (route sheet plus machine parameters) into
// chunks.
func (c *Converter) Route(books []LoadedBook) (*SourceOutput, error) {
	out := newSourceOutput(SourceRoute)
	res := c.resolver(out)
	log := c.logger.WithSource(SourceRoute)

	// Step 1: join machine parameters onto their route
	var rows []tabular.Row
	for _, b := range books {
		joined, err := joinRouteBook(b)
		if errors.Is(err, tabular.ErrSheetNotFound) {
			log.Warn().Err(err).Str("path", b.Path).Msg("Route workbook incomplete, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Rows[b.Path] = len(joined)
		rows = append(rows, joined...)
	}

	// Step 2: split rows by route type
	byType := make(map[grouping.Stage][]tabular.Row)
	routing := grouping.Stats{Input: len(rows), Dropped: make(map[string]int)}
	for _, row := range rows {
		typ := res.resolveOr(runeHead(row.Str(routeColID), 2), codedict.DomainRouteType, "")
		if typ == "" {
			routing.Dropped["route_type"]++
			continue
		}
		routing.Kept++
		byType[grouping.Stage(typ)] = append(byType[grouping.Stage(typ)], row.WithText(routeColType, typ))
	}
	out.Stages = append(out.Stages, StageReport{Stage: "routing", Stats: routing})
	if n := routing.DroppedTotal(); n > 0 {
		log.Warn().Int("rows", n).Msg("Dropped route rows with unknown route type")
	}

	// Step 3: group per type and render
	ids := make(idCounter)
	for _, typ := range routeTypes {
		if len(byType[typ]) == 0 {
			continue
		}
		records, stats := grouping.Group(byType[typ], c.routeSpec(typ, res))
		out.Stages = append(out.Stages, StageReport{Stage: string(typ), Stats: stats})
		log.Debug().
			Str("route_type", string(typ)).
			Int("input", stats.Input).
			Int("records", stats.Records).
			Msg("Grouped route parameters")

		sheet, _ := weavingAliases.Canonical(string(typ))
		for _, rec := range records {
			out.Chunks = append(out.Chunks, c.builder.Build(routeDocument(rec, sheet, ids))...)
		}
	}
	return out, nil
}

// joinRouteBook left-joins machine parameter rows to the first route row
// with the same Route Id.
func joinRouteBook(b LoadedBook) ([]tabular.Row, error) {
	routeSheet, err := b.Book.Sheet("Route", routeReadOptions)
	if err != nil {
		return nil, err
	}
	machineSheet, err := b.Book.FirstSheet(routeReadOptions, "Machine Parameter", "Route Parameter")
	if err != nil {
		return nil, err
	}
	if err := reconcile.RequireColumns(SourceRoute, routeSheet, routeColID, routeColItem); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Path, err)
	}
	if err := reconcile.RequireColumns(SourceRoute, machineSheet, routeColID, routeColOperation, routeColParamName); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Path, err)
	}

	first := make(map[string]tabular.Row)
	for _, r := range routeSheet.Rows {
		id := r.Str(routeColID)
		if _, seen := first[id]; id != "" && !seen {
			first[id] = r
		}
	}

	joined := make([]tabular.Row, 0, len(machineSheet.Rows))
	for _, m := range machineSheet.Rows {
		if route, ok := first[m.Str(routeColID)]; ok {
			for _, col := range routeJoinColumns {
				if cell, has := route.Get(col); has && !m.Has(col) {
					m = m.With(col, cell)
				}
			}
		}
		joined = append(joined, m)
	}
	return joined, nil
}

func (c *Converter) routeSpec(typ grouping.Stage, res *resolver) grouping.Spec {
	stageOf := func(r tabular.Row) grouping.Stage {
		if typ == grouping.StageGriege {
			return grouping.StageWeaving
		}
		opr := r.Str(routeColOperation)
		if opr == "" {
			return typ
		}
		return grouping.Stage(res.resolveOr(opr, operationDomains[typ], strings.TrimSpace(opr)))
	}

	return grouping.Spec{
		Source: SourceRoute,
		Key: func(r tabular.Row) (grouping.Key, bool) {
			article := grouping.RouteArticle(runeFrom(r.Str(routeColItem), 4))
			if article.Full == "" {
				return grouping.Key{}, false
			}
			return grouping.Key{Article: article, Stage: stageOf(r), Sub: r.Str(routeColID)}, true
		},
		Representative: routeConfigFields(typ),
		Entries: func(r tabular.Row) []grouping.Entry {
			key, value, ok := routeParameter(r, typ == grouping.StageProcessing)
			if !ok {
				return nil
			}
			return []grouping.Entry{{Key: key, Value: value, Text: key + " is set to " + value}}
		},
	}
}

// routeConfigFields are the per-type descriptions taken from the route row.
func routeConfigFields(typ grouping.Stage) []grouping.Field {
	machine := field("machine used in processing", func(r tabular.Row) string { return inParens(r.Str(routeColName)) })
	switch typ {
	case grouping.StageProcessing:
		return []grouping.Field{
			grouping.Column("calendaring details", routeColConfig),
			grouping.Column("finishing details after processing", routeColDim2),
			machine,
		}
	case grouping.StageCoating:
		return []grouping.Field{
			grouping.Column("coating type", routeColConfig),
			grouping.Column("finishing done before coating", routeColDim2),
		}
	case grouping.StagePrinting:
		return []grouping.Field{
			grouping.Column("design name", routeColConfig),
			grouping.Column("finishing after printing", routeColDim2),
			machine,
		}
	case grouping.StageDirectWarping:
		return []grouping.Field{
			grouping.Column("sizing details", routeColConfig),
			grouping.Column("total ends in warp", routeColDim2),
		}
	case grouping.StageBeaming, grouping.StageSectionalWarping:
		return []grouping.Field{grouping.Column("total ends in warp", routeColDim2)}
	case grouping.StageGriege:
		return []grouping.Field{
			grouping.Column("sizing details", routeColConfig),
			field("weave of fabric", func(r tabular.Row) string { return runeHead(r.Str(routeColDim2), 2) }),
		}
	}
	return nil
}

// routeParameter renders one machine parameter. Rows with neither bound
// are skipped.
func routeParameter(r tabular.Row, processing bool) (key, value string, ok bool) {
	key = r.Str(routeColParamName)
	if processing {
		if typ := r.Str(routeColParamType); !preferredMachineTypes[strings.ToLower(typ)] || key == "" {
			key = typ
		}
	}
	if key == "" {
		return "", "", false
	}

	lo, hi := r.Str(routeColMin), r.Str(routeColMax)
	switch {
	case lo != "" && hi != "" && lo != hi:
		value = lo + " to " + hi
	case lo != "":
		value = lo
	case hi != "":
		value = hi
	default:
		return "", "", false
	}

	if unit := r.Str(routeColUnit); unit != "" {
		if strings.Contains(unit, "%") && !strings.Contains(value, "%") {
			value += unit
		} else {
			value += " " + unit
		}
	}
	return key, value, true
}

func routeDocument(rec grouping.LogicalRecord, sheet grouping.Stage, ids idCounter) chunking.Document {
	stage := string(rec.Key.Stage)
	intro := "Article " + rec.Key.Article.Mention() + " uses " + stage + " operation"

	items := make([]string, 0, len(rec.Entries))
	attrs := append([]grouping.Attribute(nil), rec.Attributes...)
	for _, e := range rec.Entries {
		items = append(items, e.Text)
		attrs = append(attrs, grouping.Attribute{Name: e.Key, Value: e.Value})
	}
	if len(items) > 0 {
		intro += " with the following parameters: "
	}
	attrs = append(attrs, grouping.Attribute{Name: chunking.KeySheet, Value: string(sheet)})

	return chunking.Document{
		ID:         ids.next("Route_" + idPart(string(sheet)) + "_" + rec.Key.Article.Full),
		Stage:      rec.Key.Stage,
		Article:    rec.Key.Article,
		Source:     SourceRoute,
		Intro:      intro,
		Items:      items,
		Separator:  ", ",
		Terminator: ".",
		Attributes: attrs,
	}
}
