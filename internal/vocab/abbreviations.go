package vocab

// Abbreviation maps a short form found in sheet text to its canonical phrase.
type Abbreviation struct {
	Short string `yaml:"short"`
	Full  string `yaml:"full"`
}

// DefaultAbbreviations returns the mill's abbreviation table. Several shade
// codes collapse onto one label on purpose; see LossyCollapses.
func DefaultAbbreviations() []Abbreviation {
	return append([]Abbreviation(nil), defaultAbbreviations...)
}

var defaultAbbreviations = []Abbreviation{
	{Short: "AB", Full: "Anti Bacterial"},
	{Short: "MMT", Full: "Moisture Management"},
	{Short: "SI", Full: "Silicon"},
	{Short: "KT", Full: "Knitted"},
	{Short: "RS", Full: "Rib Stop"},
	{Short: "", Full: "NA"},
	{Short: "LN", Full: "Leno"},
	{Short: "HB", Full: "Hucka Back"},
	{Short: "CH", Full: "Chain Weave"},
	{Short: "WHCTNIL", Full: "WHCTNIL"},
	{Short: "RB", Full: "Rib Stop"},
	{Short: "OT", Full: "OT"},
	{Short: "MT", Full: "Matt Weave"},
	{Short: "FDYFLT", Full: "FDYFLT"},
	{Short: "K-", Full: "Printing Screen"},
	{Short: "ACS", Full: "Acrylic Solvent Based"},
	{Short: "ATYATY", Full: "ATY"},
	{Short: "O-", Full: "O"},
	{Short: "NBBKLAM", Full: "Non Breathable Black Thermoplastic Polyurethane Lamination"},
	{Short: "FBLAM", Full: "Lamination"},
	{Short: "RFL", Full: "RFL"},
	{Short: "LAM", Full: "Lamination"},
	{Short: "HBWLAM", Full: "High Breathable White Polyurethane Lamination"},
	{Short: "INAM", Full: "INAM"},
	{Short: "SIEL", Full: "SIEL"},
	{Short: "KU-/C", Full: "KU-/C"},
	{Short: "PVC", Full: "PVC"},
	{Short: "Layer Lam", Full: "Layer Lamination"},
	{Short: "FDYTWI", Full: "FDYTWI"},
	{Short: "TWITWI", Full: "TWITWI"},
	{Short: "AC+SLC", Full: "Acrlyic"},
	{Short: "DTYNIM", Full: "DTYNIM"},
	{Short: "DTYHIM", Full: "DTYHIM"},
	{Short: "HBTLAM", Full: "High Breathable Thermoplastic Polyurethane Lamination"},
	{Short: "LLAM", Full: "Layer Lamination"},
	{Short: "Blotch", Full: "Blotch"},
	{Short: "LWLAM", Full: "Lamination"},
	{Short: "WHFDNIL", Full: "Shade Full Dull Nil"},
	{Short: "MTM", Full: "Moisture Management"},
	{Short: "PR", Full: "Prime Finish"},
	{Short: "EL", Full: "EL 40 Finish"},
	{Short: "DSCPU", Full: "Polyurethane"},
	{Short: "NILL", Full: "Nil"},
	{Short: "EL-", Full: "EL 40 Finish"},
	{Short: "LPE", Full: "Levofin PE"},
	{Short: "AC", Full: "Acrylic Coating"},
	{Short: "PUS", Full: "Polyurethane Solvent"},
	{Short: "PU", Full: "Polyurethane"},
	{Short: "PUPVC", Full: "Polyurethane PVC"},
	{Short: "DSPU", Full: "Polyurethane"},
	{Short: "TPULAM", Full: "Thermoplastic Polyurethane Lamination"},
	{Short: "HMPU", Full: "Hot Melt Polyurethane"},
	{Short: "BRPUW", Full: "Breathable Polyurethane"},
	{Short: "BRPU", Full: "Breathable Polyurethane"},
	{Short: "PRPU", Full: "Prime Polyurethane"},
	{Short: "LAMNBTPU", Full: "Non Breathable Thermoplastic Polyurethane Lamination"},
	{Short: "SIPU", Full: "Silicon Polyurethane"},
	{Short: "PU+SLC", Full: "Polyurethane"},
	{Short: "WBPU", Full: "Water Based Polyurethane"},
	{Short: "SLPU", Full: "Sealable Polyurethane"},
	{Short: "NLBRNIL", Full: "Shade Bright Nil"},
	{Short: "BKBRNIL", Full: "Shade Bright Nil"},
	{Short: "YGBRNIL", Full: "Shade Bright Nil"},
	{Short: "JBKSDNIL", Full: "Shade Semi Dull Nil"},
	{Short: "YLBRNIL", Full: "Shade Bright Nil"},
	{Short: "GNBRNIL", Full: "Shade Bright Nil"},
	{Short: "WHSDNIL", Full: "Shade Semi Dull Nil"},
	{Short: "BRBRNIL", Full: "Shade Bright Nil"},
	{Short: "ORBRNIL", Full: "Shade Bright Nil"},
	{Short: "NIL", Full: "Nil"},
	{Short: "WR", Full: "Water Repellent"},
	{Short: "PL", Full: "Plain"},
	{Short: "TW", Full: "Twill"},
	{Short: "WRWP", Full: "Water Repellent Water Proofness"},
	{Short: "WRCL", Full: "Water Repellent Calendar"},
	{Short: "DB", Full: "Dobby"},
	{Short: "WHBRNIL", Full: "Shade Bright Nil"},
	{Short: "SIWROR", Full: "Silicon Water Repellent Oil Repellent"},
	{Short: "WRSI", Full: "Water Repellent Silicon"},
	{Short: "WRST", Full: "Water Repellent Stiff"},
	{Short: "FRWRCL", Full: "Flame Retardant Water Repellent Calendar"},
	{Short: "ST", Full: "Stiff"},
	{Short: "WROR", Full: "Water Repellent Oil Repellent"},
	{Short: "FRWR", Full: "Flame Retardant Water Repellent"},
	{Short: "FR", Full: "Flame Retardant"},
	{Short: "WRFR", Full: "Flame Retardant Water Repellent"},
	{Short: "WRAMB", Full: "Water Repellent Anti Microbial"},
	{Short: "DWR", Full: "Durable Water Repellent"},
	{Short: "DWRCL", Full: "Durable Water Repellent Calendar"},
	{Short: "IRRDWR", Full: "Durable Water Repellent"},
	{Short: "WR/NIL", Full: "Water Repellent"},
	{Short: "CL", Full: "Calendar"},
	{Short: "ACL", Full: "Calendar"},
	{Short: "SICL", Full: "Silicon Calendar"},
	{Short: "WR+", Full: "Water Repellent"},
	{Short: "CLDWR", Full: "Durable Water Repellent Calendar"},
	{Short: "WRAS", Full: "Water Repellent Anti Static"},
	{Short: "DWRDCL", Full: "Durable Water Repellent Calendar"},
	{Short: "OWR", Full: "Water Repellent Oil Repellent"},
	{Short: "AMWR", Full: "Water Repellent Anti Microbial"},
	{Short: "WRORST", Full: "Water Repellent Oil Repellent Stiff"},
	{Short: "OWRST", Full: "Water Repellent Oil Repellent Stiff"},
	{Short: "Non Sized", Full: "Non Sized"},
	{Short: "WLD CL", Full: "Calendar"},
	{Short: "FRPUAB", Full: "Flame Retardant Poly Urethane Anti Microbial"},
	{Short: "Sized", Full: "Sized"},
	{Short: "Acrylic Sized", Full: "Acrylic Sized"},
	{Short: "Acrylic Sized KANANI", Full: "Acrylic Sized"},
	{Short: "FRPU", Full: "Flame Retardant Poly Urethane"},
	{Short: "DW Acrylic Sized", Full: "Acrylic Sized"},
	{Short: "DCL", Full: "Calendar"},
	{Short: "Unsized", Full: "Non Sized"},
	{Short: "Polyester Sized", Full: "Polyester Sized"},
	{Short: "NONSIZE", Full: "Non Sized"},
	{Short: "Acrylic Sized Draw Kanani", Full: "Acrylic Sized"},
	{Short: "Acrylic Sized/DW", Full: "Acrylic Sized"},
}
