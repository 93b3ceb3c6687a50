package codedict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_CoatingType(t *testing.T) {
	d := Default()
	tests := []struct {
		in, want string
	}{
		{"pu", "Polyurethane Coating"},
		{"PUS200", "Polyurethane Solvent"},
		{"AC+SLC", "Acrylic"},
		{"AC+SLC2", "Acrylic"},
		{"AC12", "Acrylic Coating"},
		{"BRPUW", "Breathable Polyurethane"},
		{"HB25WLAM", "High breathable white lamination of 25 micron"},
		{"HB12TLAM", "High breathable transparent lamination of 12 micron"},
		{"HB30 LAM", "High breathable lamination of 30 micron"},
		{"hb30lam", "High breathable lamination of 30 micron"},
		{"  xyz ", "XYZ"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Resolve(tt.in, DomainCoatingType))
		})
	}
}

func TestResolve_FinishPrecedence(t *testing.T) {
	d := Default()

	assert.Equal(t, "Fluorine Free Durable Water Repellent (C Zero)", d.Resolve("FFDWRXYZ", DomainFinishCoating))
	assert.Equal(t, "Fluorine Free Durable Water Repellent (C Zero)", d.Resolve("FFDWR123", DomainFinishCoating))
	assert.Equal(t, "Flame Retardant and Durable Water Repellent", d.Resolve("FRDWR", DomainFinishCoating))
	assert.Equal(t, "Flame Retardent Finish", d.Resolve("FRWR", DomainFinishCoating))
	assert.Equal(t, "Water Repellent Finish", d.Resolve("WRCL", DomainFinishCoating))
	assert.Equal(t, "Prime Finish", d.Resolve("cb", DomainFinishCoating))
	assert.Equal(t, "No Finish", d.Resolve("nil", DomainFinishCoating))

	assert.Equal(t, "Fluorine Free Durable Water Repellent", d.Resolve("FFDWRXYZ", DomainFinishProcessing))
	assert.Equal(t, "Flame Retardent Finish", d.Resolve("FRDWR", DomainFinishProcessing))
}

// Moving a generic prefix above a specific rule must change the outcome,
// which is why rule order is data.
func TestTable_RuleOrderMatters(t *testing.T) {
	table := CoatingTypeTable()

	var acIdx, acslcIdx int
	for i, r := range table.Rules {
		switch r.Code {
		case "AC":
			acIdx = i
		case "AC+SLC":
			acslcIdx = i
		}
	}
	require.Less(t, acslcIdx, acIdx)

	swapped := &Table{Domain: table.Domain, FoldCase: true, Rules: append([]Rule(nil), table.Rules...)}
	swapped.Rules[acIdx], swapped.Rules[acslcIdx] = swapped.Rules[acslcIdx], swapped.Rules[acIdx]
	assert.Equal(t, "Acrylic Coating", swapped.Lookup("AC+SLC").Label)
	assert.Equal(t, "Acrylic", table.Lookup("AC+SLC").Label)

	finish := FinishCoatingTable()
	res := finish.Lookup("FFDWR123")
	assert.Equal(t, 0, res.RuleIndex)
}

func TestLookup_UnmatchedIsReported(t *testing.T) {
	d := Default()

	res := d.Lookup(" qq ", DomainWeave)
	assert.False(t, res.Matched)
	assert.Equal(t, "QQ", res.Label)
	assert.Equal(t, -1, res.RuleIndex)

	res = d.Lookup("x", DomainYarnType)
	assert.False(t, res.Matched, "non folding tables match case-sensitively")
	assert.Equal(t, "X", res.Label)

	assert.Equal(t, "FD", d.Resolve(" fd ", DomainDullness))
	assert.Equal(t, "QQ", d.Resolve(" qq ", DomainTwistDirection))
	assert.Equal(t, "ZZ", d.Resolve(" zz ", DomainCoatingType))
	assert.Equal(t, "ABC", d.Resolve(" abc ", Domain("nope")))
	assert.Equal(t, "XYZ", d.Resolve(" xyz ", DomainComposition))
	assert.Equal(t, "fallback", d.ResolveOr("ZZ", DomainDullness, "fallback"))
}

func TestResolve_Composition(t *testing.T) {
	d := Default()
	tests := []struct {
		in, want string
	}{
		{"PES", "Polyester"},
		{"N06", "Nylon 6"},
		{"PESCTN", "PolyesterCotton"},
		{"XPTT", "XPolytrimethylene Teraphthalate (PTT) FDY Sorona"},
		{"123", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Resolve(tt.in, DomainComposition))
		})
	}

	// Labels are never re-scanned for further tokens.
	res := d.Lookup("PTS", DomainComposition)
	assert.True(t, res.Matched)
	assert.Equal(t, "PTT Bico Sorona Stretch", res.Label)
}

func TestResolve_SmallDomains(t *testing.T) {
	d := Default()
	tests := []struct {
		domain   Domain
		in, want string
	}{
		{DomainYarnType, "X", "Twisted"},
		{DomainTwistDirection, "0", "No Twist"},
		{DomainWeave, "db12", "Dobby"},
		{DomainWeftTexture, "dtyhim", "Drawn and Textured Yarn"},
		{DomainWarpTexture, "DTY", "Drawn Textured Yarn"},
		{DomainDullness, "SD", "Semi Dull"},
		{DomainShrinkage, "LS", "Low Shrinkage"},
		{DomainElongation, "HE", "High Elongation"},
		{DomainTenacity, "HT", "High Tenacity"},
		{DomainCalendaring, "nil", "No calendar"},
		{DomainCalendaring, "CL2", "Calendared Fabric"},
		{DomainFibre, "p", "Polyester"},
		{DomainBOMSheet, "BA0012", "Warping"},
		{DomainRouteType, "RC00045", "Coating"},
		{DomainQualityStage, "g", "Griege"},
		{DomainCoatingOperation, "Coat1", "Coating"},
		{DomainProcessingOperation, "Sc,Dy,Wh", "scouring, drying and washing"},
		{DomainPrintingOperation, "PTG-2", "Printing"},
		{DomainBeamingOperation, "Siz", "Sizing"},
		{DomainWarpingOperation, "Sec War", "sectional warping"},
	}
	for _, tt := range tests {
		t.Run(string(tt.domain)+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Resolve(tt.in, tt.domain))
		})
	}
}

func TestDefault_AllDomainsRegistered(t *testing.T) {
	d := Default()
	assert.Len(t, d.Domains(), 23)
	_, ok := d.Table(DomainComposition)
	assert.True(t, ok)
}
