package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
)

func TestNormalizer_Text(t *testing.T) {
	n := NewNormalizer(DefaultAbbreviations())

	tests := []struct {
		name, in, want string
	}{
		{"whole word", "Type of Finish is WR", "Type of Finish is Water Repellent"},
		{"longest first", "Finish is WRCL and FRWRCL", "Finish is Water Repellent Calendar and Flame Retardant Water Repellent Calendar"},
		{"inside word untouched", "WRITE and PUB stay", "WRITE and PUB stay"},
		{"case sensitive", "pu and Pu stay", "pu and Pu stay"},
		{"specific before generic", "AC+SLC coat", "Acrlyic coat"},
		{"multi word short form", "Sizing is Acrylic Sized Draw Kanani.", "Sizing is Acrylic Sized."},
		{"label is prefix of short form", "Texture is ATYATY", "Texture is ATY"},
		{"short form with trailing symbol", "Screen O-12", "Screen O12"},
		{"slash short form", "Sizing is Acrylic Sized/DW", "Sizing is Acrylic Sized"},
		{"no chaining", "PU", "Polyurethane"},
		{"label containing its short form", "Finish is EL", "Finish is EL 40 Finish"},
		{"label already present", "Finish is EL 40 Finish", "Finish is EL 40 Finish"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Text(tt.in))
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer(DefaultAbbreviations())
	chunks := []chunking.Chunk{
		{
			ID:      "Coating_8090_1",
			Content: "In the Coating process of article 8090, Type of Finish is EL; Type of Coating is PU+SLC; Shade is WHBRNIL; Weave is PL.",
			Metadata: map[string]string{
				"Type of Finish": "EL",
				"Shade":          "NLBRNIL",
				"article":        "8090",
			},
		},
		{ID: "Route_1", Content: "Layer Lam with LAM and DW Acrylic Sized", Metadata: map[string]string{"Article_No": "8228FT"}},
	}

	once := n.Normalize(chunks)
	twice := n.Normalize(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, "In the Coating process of article 8090, Type of Finish is EL 40 Finish; Type of Coating is Polyurethane; Shade is Shade Bright Nil; Weave is Plain.", once[0].Content)
	assert.Equal(t, "EL 40 Finish", once[0].Metadata["Type of Finish"])
	assert.Equal(t, "of article 8090", once[0].Metadata[chunking.KeySame])
	assert.Equal(t, "Layer Lamination with Lamination and Acrylic Sized", once[1].Content)
	assert.Equal(t, "of article 8228FT", once[1].Metadata[chunking.KeySame])

	assert.Contains(t, chunks[0].Content, "Finish is EL;")
	assert.NotContains(t, chunks[0].Metadata, chunking.KeySame)
}

func TestNormalizer_IgnoresEmptyAndIdentityEntries(t *testing.T) {
	n := NewNormalizer([]Abbreviation{
		{Short: "", Full: "NA"},
		{Short: "OT", Full: "OT"},
		{Short: "PL", Full: "Plain"},
		{Short: "PL", Full: "Ignored"},
	})
	assert.Equal(t, 1, n.Size())
	assert.Equal(t, "Plain OT", n.Text("PL OT"))

	empty := NewNormalizer(nil)
	assert.Equal(t, "PL", empty.Text("PL"))
}

func TestLossyCollapses(t *testing.T) {
	collapses := LossyCollapses(DefaultAbbreviations())

	bright := collapses["Shade Bright Nil"]
	require.NotEmpty(t, bright)
	assert.Contains(t, bright, "WHBRNIL")
	assert.Contains(t, bright, "NLBRNIL")
	assert.IsIncreasing(t, bright)

	assert.Equal(t, []string{"EL", "EL-"}, collapses["EL 40 Finish"])
	assert.NotContains(t, collapses, "Silicon")
}

func TestDerive(t *testing.T) {
	chunks := []chunking.Chunk{
		{Metadata: map[string]string{
			"stage": "Coating", "article": "8090", "article_no": "8090", "full_article": "8090",
			"Type of Coating": "Acrylic", "chunk_part": "1", "same": "of article 8090",
		}},
		{Metadata: map[string]string{
			"operation": "Heat Set Stenter", "Temperature": "180 C", "Route Name": "x", "design_name": "y",
		}},
		{Metadata: map[string]string{"original_stage_name": "C", "stage": "Testing After Coating", "Coated Tear Strength": "40–60"}},
		{Metadata: map[string]string{"note": "no stage"}},
	}

	v := Derive(chunks)

	assert.Contains(t, v.ProcessNames, "coating")
	assert.Contains(t, v.ProcessNames, "heat set stenter")
	assert.Contains(t, v.ProcessNames, "weaving")
	assert.IsIncreasing(t, v.ProcessNames)

	assert.Equal(t, []string{"type of coating"}, v.ProcessParameters["coating"])
	assert.Equal(t, []string{"temperature"}, v.ProcessParameters["heat set stenter"])
	assert.Equal(t, []string{"coated tear strength", "original_stage_name"}, v.ProcessParameters["testing after coating"])
	assert.Len(t, v.ProcessParameters, 3)
}

func TestVocabulary_Matching(t *testing.T) {
	v := Vocabulary{
		ProcessNames: BaseProcessNames,
		ProcessParameters: map[string][]string{
			"coating": {"type of coating", "width after coating"},
		},
	}

	assert.Equal(t, []string{"testing after coating", "coating"}, v.MatchStages("What is Testing After Coating for 8090?"))
	assert.Equal(t, []string{"width after coating"}, v.MatchParameters("Coating", "what WIDTH AFTER COATING does 8090 have"))
	assert.Empty(t, v.MatchParameters("Printing", "width after coating"))
}

func TestVocabulary_YAMLRoundTrip(t *testing.T) {
	v := Derive([]chunking.Chunk{{Metadata: map[string]string{"stage": "Coating", "Shade": "WH"}}})

	data, err := v.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "process_names:")

	back, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, v, back)
}
