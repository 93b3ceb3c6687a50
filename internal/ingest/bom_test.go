package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/reconcile"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
)

var bomHeader = []string{
	"BOMId", "Name", "ItemId", "Config", "Shade", "Dim", "Width", "Site", "Unit", "Line",
	"LineItemID", "Texture", "Vendor", "ShadeCode", "Props", "Qty",
}

// bomLine builds a 16 column BOM row from column index to value.
func bomLine(cells map[int]string) []string {
	row := make([]string, len(bomHeader))
	for i, v := range cells {
		row[i] = v
	}
	return row
}

func bomGrid() [][]string {
	return [][]string{
		{"Bill of Materials export"},
		bomHeader,
		bomLine(map[int]string{
			0: "BE0001", 2: "E1238228", 4: "Black", 5: "4800", 10: "X01234ABCD123456Z12",
			11: "FDYFLT", 12: "Vendor A", 13: "WHBRNIL", 14: "NSHELT", 15: "10",
		}),
		bomLine(map[int]string{
			0: "BG0001", 2: "G1238228", 3: "Sized", 5: "PL01", 6: "150",
			10: "Y02/240000PES000S01", 11: "DTY", 12: "Vendor B",
		}),
		bomLine(map[int]string{0: "BG0001", 2: "G1238228", 10: "BW-0042"}),
		bomLine(map[int]string{0: "BG0002", 2: "G1239100", 10: "Y02/240000PES000S01"}),
		bomLine(map[int]string{
			0: "BP0001", 1: "Scouring (Jet)", 2: "P1238228", 3: "NIL", 4: "Navy", 6: "148",
			10: "CHEM-A", 12: "ChemCo", 15: "2",
		}),
		bomLine(map[int]string{0: "BP0001", 1: "Scouring (Jet)", 2: "P1238228", 10: "GW-0001", 15: "1"}),
		bomLine(map[int]string{0: "BC0001", 2: "C1238228", 10: "PU-RESIN", 12: "Coatex", 14: "Top", 15: "30"}),
		bomLine(map[int]string{0: "ZZ0001", 2: "Z1238228", 10: "NOPE"}),
	}
}

func bomBook(t *testing.T) LoadedBook {
	t.Helper()
	book := tabular.NewWorkbook("bom.xlsx")
	book.AddSheet("BOM", bomGrid())
	return LoadedBook{Source: SourceBOM, Path: book.Path, Book: book}
}

func chunkByID(t *testing.T, chunks []chunking.Chunk, id string) chunking.Chunk {
	t.Helper()
	for _, c := range chunks {
		if c.ID == id {
			return c
		}
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	require.FailNow(t, "chunk not found", "%s not in %v", id, ids)
	return chunking.Chunk{}
}

func chunkIDs(chunks []chunking.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

func TestConverter_BOM(t *testing.T) {
	out, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{bomBook(t)})
	require.NoError(t, err)

	assert.Equal(t, SourceBOM, out.Source)
	assert.Equal(t, 8, out.Rows["bom.xlsx"])
	assert.Equal(t, []string{
		"Warping_Weft_8228",
		"Weft_9100_1",
		"Processing_8228_1",
		"Coating_8228_1",
	}, chunkIDs(out.Chunks))

	t.Run("warp and weft merge", func(t *testing.T) {
		c := chunkByID(t, out.Chunks, "Warping_Weft_8228")
		assert.Equal(t, "Warp and Weft Yarn details", c.Stage)
		assert.Equal(t, "8228", c.Article)
		assert.Contains(t, c.Content, "For article 8228, the warp yarn denier is 1234 and weft yarn denier is unknown; "+
			"the warp yarn twist is 456 and the weft yarn twist is 0. Additional parameters recorded are: ")
		assert.Contains(t, c.Content, "BOMId is BE0001; ItemId is E1238228")
		assert.Contains(t, c.Content, "BOMId is BG0001; ItemId is G1238228")
		assert.Contains(t, c.Content, "Type of Warping is Sectional warping")
		assert.Contains(t, c.Content, "Drawing and texturing in Warp Yarn is Fully Drawn Yarn / Flat")
		assert.Contains(t, c.Content, "Dullness/Brightness of warp is Bright")
		assert.Contains(t, c.Content, "warp Yarn Tenacity is Low Tenacity")
		assert.Contains(t, c.Content, "Weave of fabric is Plain")
		assert.Contains(t, c.Content, "Drawing and texturing in Weft Yarn is Drawn and Textured Yarn")
		assert.Contains(t, c.Content, "Fibre in Weft is Polyester")
		assert.Equal(t, "BE0001", c.Metadata["BOMId_warp"])
		assert.Equal(t, "BG0001", c.Metadata["BOMId_weft"])
		assert.Equal(t, "Warp and Weft Yarn details", c.Metadata[chunking.KeySheet])
		assert.Equal(t, "8228", c.Metadata["article"])
		assert.Equal(t, SourceBOM, c.Metadata[chunking.KeySource])
	})

	t.Run("unmerged griege becomes weft", func(t *testing.T) {
		c := chunkByID(t, out.Chunks, "Weft_9100_1")
		assert.Equal(t, "Weft", c.Stage)
		assert.Equal(t, "Weft", c.Metadata[chunking.KeySheet])
		assert.Contains(t, c.Content, "In the Weft process of article 9100, the following parameters were recorded: ")
		assert.Contains(t, c.Content, "Weft Count is 24 Ne of 2 ply")
	})

	t.Run("processing chemicals", func(t *testing.T) {
		c := chunkByID(t, out.Chunks, "Processing_8228_1")
		assert.Contains(t, c.Content, "Process Name is Scouring")
		assert.Contains(t, c.Content, "Machine used for processing is Jet")
		assert.Contains(t, c.Content, "Calendaring is No calendar")
		assert.Contains(t, c.Content, "Chemicals Used is CHEM-A (ChemCo - 2 Gpl)")
		assert.NotContains(t, c.Content, "GW-0001")
		assert.Equal(t, "148", c.Metadata["Width in cm"])
	})

	t.Run("coating chemicals", func(t *testing.T) {
		c := chunkByID(t, out.Chunks, "Coating_8228_1")
		assert.Contains(t, c.Content, "Coating Chemicals is PU-RESIN (Coatex - Top) and chemical quantity is 30")
		assert.Equal(t, "Coating", c.Metadata[chunking.KeyStage])
	})

	t.Run("stats and unmapped codes", func(t *testing.T) {
		reports := make(map[string]StageReport)
		for _, r := range out.Stages {
			reports[r.Stage] = r
		}
		assert.Equal(t, 1, reports["routing"].Stats.Dropped["sheet"])
		assert.Equal(t, 1, reports["Griege"].Stats.Dropped["warp_line_item"])
		assert.Equal(t, 1, reports["Processing"].Stats.Dropped["greige_chemical"])
		assert.Equal(t, 1, out.Unmapped[codedict.DomainBOMSheet]["ZZ"])
		assert.Equal(t, 1, out.UnmappedTotal())
	})
}

func TestConverter_BOM_Deterministic(t *testing.T) {
	grid := bomGrid()
	reversed := [][]string{grid[0], grid[1]}
	for i := len(grid) - 1; i >= 2; i-- {
		reversed = append(reversed, grid[i])
	}
	book := tabular.NewWorkbook("reversed.xlsx")
	book.AddSheet("BOM", reversed)

	a, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{bomBook(t)})
	require.NoError(t, err)
	b, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{{Source: SourceBOM, Path: book.Path, Book: book}})
	require.NoError(t, err)

	require.Equal(t, chunkIDs(a.Chunks), chunkIDs(b.Chunks))
	for i := range a.Chunks {
		assert.Equal(t, a.Chunks[i].Content, b.Chunks[i].Content)
		assert.Equal(t, a.Chunks[i].Metadata, b.Chunks[i].Metadata)
	}
}

func TestConverter_BOM_SheetHandling(t *testing.T) {
	t.Run("single sheet export is read whatever its name", func(t *testing.T) {
		book := tabular.NewWorkbook("bom.csv")
		book.AddSheet("export", bomGrid())
		out, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{{Source: SourceBOM, Path: book.Path, Book: book}})
		require.NoError(t, err)
		assert.Len(t, out.Chunks, 4)
	})

	t.Run("workbook without BOM sheet is skipped", func(t *testing.T) {
		book := tabular.NewWorkbook("other.xlsx")
		book.AddSheet("Summary", [][]string{{"a"}, {"b"}})
		book.AddSheet("Notes", [][]string{{"a"}, {"b"}})
		out, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{{Source: SourceBOM, Path: book.Path, Book: book}})
		require.NoError(t, err)
		assert.Empty(t, out.Chunks)
	})

	t.Run("missing positional column fails", func(t *testing.T) {
		book := tabular.NewWorkbook("narrow.xlsx")
		book.AddSheet("BOM", [][]string{
			{"title"},
			{"BOMId", "Name", "ItemId"},
			{"BE0001", "x", "E1238228"},
		})
		_, err := NewConverter(nil, nil, nil).BOM([]LoadedBook{{Source: SourceBOM, Path: book.Path, Book: book}})
		require.Error(t, err)
		assert.ErrorIs(t, err, reconcile.ErrMissingColumn)
	})
}
