package codedict

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestNameRenamer_Rename(t *testing.T) {
	r := NewTestNameRenamer()
	tests := []struct {
		name, sheet, want string
	}{
		{"TS-Wp N", "Griege", "Grey Tear strength of warp in N"},
		{"TS-Elm-Wt gf", "Coating", "Coated Tear strength of weft using Elmendorf method in gf"},
		{"AP@125 Pa (cfm)", "Processing", "Processed Air permeability at 125 Pa pressure in cfm"},
		{"%Elong-Wp", "", "Fabric elongation in warp direction (Wp)"},
		{"BS-Wt N", "Printing", "Printed Breaking strength of Weft in N"},
		{"BS-Yarn", "", "Breaking strength of Yarn in unknown unit"},
		{"Burst St kg/cm2", "", "Bursting strength in kg/cm²"},
		{"CF-Rub-Dry-Wp", "", "Colourfastness to Rubbing (Dry) on Warp"},
		{"CF-Wash-St on-Cotton", "", "Colourfastness to Washing Staining on Cotton"},
		{"CF-Sea Water-Ch in Shade", "", "Colourfastness to Sea Water Change in Shade"},
		{"DE Values", "", "Delta E (ΔE) value"},
		{"DE Values-D65", "", "Delta E (ΔE) under D65"},
		{"DS-After 5 wash-Wp", "", "Dimensional stability of warp after 5 washes"},
		{"DS-Hot Water -Yarn", "", "Dimensional stability of yarn in hot water"},
		{"DS-to Heat @ 180C 1min-Wt", "", "Dimensional stability of weft to heat at 180C 1min"},
		{"Thick mm (2 kPa)", "", "Thickness in mm at 2 kPa"},
		{"Thrd Count-Wp inch", "", "Ends per inch"},
		{"Thrd Count-Wt cm (relaxed)", "", "Picks per cm at relaxed"},
		{"cf to light", "Griege", "Grey Colour fastness to light"},
		{"Abrasion Resi. Wool/12Kpa cycles-20,000", "", "Abrasion resistance using Wool at 12Kpa after 20000 cycles"},
		{"Abra wool", "", "Abrasion resistance using Wool at unspecified pressure after unspecified number of cycles"},
		{"WP (20c 30sec)", "", "Water proofness tested at 20°C for 30 seconds"},
		{"WeldZone WP", "", "Water proofness of weld zone"},
		{"WP (1.5 bar)", "", "Water proofness with minimum pressure of 1.5 bar"},
		{"Wicking-Wp after10min", "", "Wicking height using original method in warp direction after 10 minutes"},
		{"Wicking 5xHL-Wt", "", "Wicking height using 5xHL method in weft direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Rename(tt.name, tt.sheet))
		})
	}
}

func TestTestNameRenamer_Unmapped(t *testing.T) {
	r := NewTestNameRenamer()

	assert.Equal(t, "pH value", r.Rename(" pH value ", "Griege"))
	assert.False(t, r.Mapped("pH value"))
	assert.Equal(t, "", r.Rename("  ", "Griege"))

	// A recognized prefix whose pattern fails still passes through.
	assert.Equal(t, "BS-", r.Rename("BS-", "Coating"))
	assert.True(t, r.Mapped("TS-Wp N"))
}

func TestTestNameRenamer_ConcurrentMemo(t *testing.T) {
	r := NewTestNameRenamer()

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Rename("TS-Wp N", "Processing")
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "Processed Tear strength of warp in N", got)
	}
	assert.Len(t, r.memo, 1)
}
