package codedict

// Default returns the dictionary used by the mill pipeline.
func Default() *Dictionary {
	return New(
		CoatingTypeTable(),
		FinishCoatingTable(),
		FinishProcessingTable(),
		WeaveTable(),
		CompositionTable(),
		exactTable(DomainYarnType, false,
			"X", "Twisted",
			"Y", "Flat",
			"A", "Air Textured"),
		exactTable(DomainTwistDirection, false,
			"0", "No Twist",
			"S", "S Twist",
			"Z", "Z Twist"),
		&Table{Domain: DomainWeftTexture, FoldCase: true, Rules: []Rule{
			PrefixRule("FDY", "Fully Drawn Yarn"),
			PrefixRule("DTY", "Drawn and Textured Yarn"),
			PrefixRule("TWI", "Twisted"),
			PrefixRule("ATY", "Air Textured Yarn"),
		}},
		exactTable(DomainWarpTexture, false,
			"FDY", "Fully Drawn Yarn",
			"DTY", "Drawn Textured Yarn",
			"TWI", "Twisted",
			"SIM", "Semi Intermingle",
			"HIM", "Highly Intermingle",
			"FLT", "Flat"),
		exactTable(DomainDullness, false,
			"FD", "Fully Dull",
			"SD", "Semi Dull",
			"BR", "Bright"),
		exactTable(DomainShrinkage, false,
			"NS", "Normal Shrinkage",
			"LS", "Low Shrinkage"),
		exactTable(DomainElongation, false,
			"NE", "Normal Elongation",
			"HE", "High Elongation"),
		exactTable(DomainTenacity, false,
			"NT", "Normal Tenacity",
			"LT", "Low Tenacity",
			"HT", "High Tenacity"),
		&Table{Domain: DomainCalendaring, FoldCase: true, Rules: []Rule{
			ExactRule("NIL", "No calendar"),
			PrefixRule("CL", "Calendared Fabric"),
		}},
		FibreTable(),
		&Table{Domain: DomainBOMSheet, FoldCase: true, Rules: []Rule{
			PrefixRule("BE", "Warping"),
			PrefixRule("BA", "Warping"),
			PrefixRule("BG", "Griege"),
			PrefixRule("BP", "Processing"),
			PrefixRule("BC", "Coating"),
		}},
		&Table{Domain: DomainRouteType, Rules: []Rule{
			PrefixRule("RA", "Direct Warping"),
			PrefixRule("RP", "Processing"),
			PrefixRule("RB", "Beaming"),
			PrefixRule("RE", "Sectional Warping"),
			PrefixRule("RG", "Griege"),
			PrefixRule("RD", "Printing"),
			PrefixRule("RC", "Coating"),
		}},
		exactTable(DomainQualityStage, true,
			"G", "Griege",
			"P", "Processing",
			"C", "Coating",
			"D", "Printing"),
		exactTable(DomainCoatingOperation, false,
			"CAL", "Calendaring",
			"Fns", "Finishing",
			"Cur", "Curing",
			"Scou", "Scouring",
			"Dy", "Dyeing and Washing",
			"Was", "Dyeing and Washing",
			"Coat", "Coating",
			"cal1", "Calendaring",
			"coat1", "Coating",
			"dy,was", "Dyeing and Washing",
			"Dy,Was", "Dyeing and Washing",
			"Coat1", "Coating",
			"CAL1", "Calendaring"),
		exactTable(DomainProcessingOperation, false,
			"Sco,Was", "scouring and washing",
			"AGE", "Ageing",
			"Age", "Ageing",
			"SC,DY,WH", "scouring, drying and washing",
			"CAL1", "calendering",
			"CAL2", "calendering",
			"CAL3", "calendering",
			"Cal1", "calendering",
			"Cal2", "calendering",
			"Cal3", "calendering",
			"Cur", "Curing",
			"Fns", "Finishing",
			"Dy,Was", "dye wash",
			"Dry", "Drying",
			"Scou", "scouring",
			"Was PTG", "print wash",
			"ptg", "printing",
			"sc,dy,wh", "scouring, drying and washing",
			"Sc,Dy,Wh", "scouring, drying and washing",
			"sco,dye", "scouring and dyeing",
			"Dry PTG", "dry print",
			"scou-bo", "scouring",
			"was", "washing",
			"Was", "washing",
			"was ptg", "washing print",
			"dy,was", "dye wash",
			"dry ptg", "dry print",
			"Sco,Dye", "scouring and dyeing",
			"Scou-BO", "scouring"),
		exactTable(DomainPrintingOperation, false,
			"PTG", "Printing",
			"AGE", "Ageing",
			"Age", "Ageing",
			"Was PTG", "Print Wash",
			"PTG-1", "Printing",
			"PTG-2", "Printing",
			"PTG-3", "Printing",
			"ptg-3", "Printing",
			"ptg", "Printing",
			"Cur", "Curing",
			"Fns", "Finishing",
			"Dry", "Drying",
			"CAL1", "Calendaring",
			"dry ptg", "dry printing",
			"was ptg", "Print Wash",
			"Was", "print wash"),
		exactTable(DomainBeamingOperation, false,
			"Siz", "Sizing",
			"Bea", "Beaming"),
		exactTable(DomainWarpingOperation, false,
			"Sec War", "sectional warping",
			"Weav", "weaving",
			"War", "direct warping",
			"Siz", "Sizing",
			"Bea", "Beaming"),
	)
}

// CoatingTypeTable maps coating formulation codes. "AC+SLC" must stay above
// the generic "AC" prefix and the HB lamination patterns above plain LAM.
func CoatingTypeTable() *Table {
	return &Table{Domain: DomainCoatingType, FoldCase: true, Rules: []Rule{
		ExactRule("PU", "Polyurethane Coating"),
		PrefixRule("PUS", "Polyurethane Solvent"),
		ContainsRule("AC+SLC", "Acrylic"),
		PrefixRule("AC", "Acrylic Coating"),
		PrefixRule("BRPU", "Breathable Polyurethane"),
		PrefixRule("DSPVC", "Breathable Polyvinyle Chloride Coating"),
		PrefixRule("FRLAM", "Flame Retardent Lamination"),
		PatternRule(`^HB(\d+)WLAM$`, "High breathable white lamination of {1} micron"),
		PatternRule(`^HB(\d+)TLAM$`, "High breathable transparent lamination of {1} micron"),
		PatternRule(`^HB(\d+)\s*LAM$`, "High breathable lamination of {1} micron"),
		PrefixRule("SIPU", "Silicon and Polyurethane"),
		PrefixRule("SLPU", "Sealable Polyurethane"),
	}}
}

// finishRules is shared by both finish variants. The FFDWR/FRDWR family
// precedes DWR, WR and FR.
func finishRules(zeroCarbon bool) []Rule {
	var rules []Rule
	if zeroCarbon {
		rules = append(rules,
			PrefixRule("FFDWR", "Fluorine Free Durable Water Repellent (C Zero)"),
			PrefixRule("FRDWR", "Flame Retardant and Durable Water Repellent"),
		)
	} else {
		rules = append(rules,
			PrefixRule("FFDWR", "Fluorine Free Durable Water Repellent"),
		)
	}
	return append(rules,
		PrefixRule("DWR", "Durable Water Repellent"),
		PrefixRule("WR", "Water Repellent Finish"),
		PrefixRule("SI", "Silicon Finish"),
		PrefixRule("ST", "Stiff Finish"),
		PrefixRule("MMT", "Moisture Management Finish"),
		PrefixRule("AB", "AntiBacterial Finish"),
		PrefixRule("CB", "Prime Finish"),
		PrefixRule("PR", "Prime Finish"),
		PrefixRule("FR", "Flame Retardent Finish"),
		PrefixRule("LPE", "Levofin PE Finish"),
		ExactRule("NIL", "No Finish"),
	)
}

// FinishCoatingTable is the finish table used on coating sheets.
func FinishCoatingTable() *Table {
	return &Table{Domain: DomainFinishCoating, FoldCase: true, Rules: finishRules(true)}
}

// FinishProcessingTable is the finish table used on processing sheets.
func FinishProcessingTable() *Table {
	return &Table{Domain: DomainFinishProcessing, FoldCase: true, Rules: finishRules(false)}
}

// WeaveTable maps the first two letters of a weave code.
func WeaveTable() *Table {
	return &Table{Domain: DomainWeave, FoldCase: true, Rules: []Rule{
		PrefixRule("DB", "Dobby"),
		PrefixRule("RS", "Ripstop"),
		PrefixRule("HB", "Herringbone Twill"),
		PrefixRule("KT", "Knitted"),
		PrefixRule("KN", "Knitted"),
		PrefixRule("LN", "Leno"),
		PrefixRule("ST", "Satin"),
		PrefixRule("PL", "Plain"),
	}}
}

// CompositionTable replaces three letter fibre tokens inside yarn codes.
func CompositionTable() *Table {
	t := exactTable(DomainComposition, false,
		"N06", "Nylon 6",
		"N66", "Nylon 66",
		"PES", "Polyester",
		"PPL", "Polypropylene",
		"SPE", "Spun Polyester",
		"CTN", "Cotton",
		"PCT", "Polyester-Cotton",
		"VSR", "Viscose Rayon",
		"PEV", "Polyester Viscose",
		"PSP", "Polyester Spandex",
		"PBT", "Polybutylene Terephthalate",
		"SAC", "Spun Acrylic",
		"PRE", "Recycled Polyester",
		"MRE", "Recycled Nylon 06",
		"NRE", "Recycled Nylon 66",
		"MAR", "Meta Aramid",
		"PAR", "Para Aramid",
		"PTT", "Polytrimethylene Teraphthalate (PTT) FDY Sorona",
		"PTS", "PTT Bico Sorona Stretch",
		"PRS", "Recycled PET Spandex",
		"APR", "Aromatic Polyester (Vectran)",
		"MSP", "Nylon 06 Spandex",
		"APE", "Antistatic Nylon and Polyester Yarn",
		"ANY", "Antistatic Nylon Yarn",
		"MCL", "NYLON6+COTTON+LYCRA",
		"MCT", "NYLON6+COTTON",
		"SPP", "Spun Polyester steel + Continuous filament polyester",
	)
	t.Mode = ReplaceTokens
	return t
}

// FibreTable maps the single fibre letters used in quality item numbers.
func FibreTable() *Table {
	return exactTable(DomainFibre, true,
		"M", "Nylon 6",
		"N", "Nylon 66",
		"L", "Poly Propylene",
		"P", "Polyester",
		"E", "Spun Polyester",
		"V", "Viscose Rayon",
		"T", "Polyester Cotton",
		"R", "Para Aramid",
		"A", "Meta Aramid",
		"C", "Cotton",
		"B", "Dimetrol",
		"D", "Nylon Cotton",
		"Z", "Nylon Spandex",
		"G", "Polyester Viscose",
		"H", "Spun Poly Propylene",
		"S", "Polyester Spandex",
		"U", "Spun Viscose Rayon",
		"Y", "Spun Acrylic",
		"F", "Recycled Polyester Spandex",
		"I", "PTT",
		"J", "PTT stretch",
		"X", "Aromatic Polyester (ARP - Vectran)",
		"K", "Nylon 06 Spandex",
		"Q", "Glass Fibre",
	)
}

// exactTable builds an Exact-rule table from code/label pairs.
func exactTable(domain Domain, fold bool, pairs ...string) *Table {
	t := &Table{Domain: domain, FoldCase: fold}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Rules = append(t.Rules, ExactRule(pairs[i], pairs[i+1]))
	}
	return t
}
