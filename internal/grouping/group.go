package grouping

import (
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
)

// DropKey counts rows whose key function rejected them.
const DropKey = "key"

// Filter is a named row predicate. Rows failing Keep are dropped.
type Filter struct {
	Name string
	Keep func(tabular.Row) bool
}

// Field derives one attribute value from a row.
type Field struct {
	Name  string
	Value func(tabular.Row) string
}

// Column is a Field reading a column as-is.
func Column(name, col string) Field {
	return Field{Name: name, Value: func(r tabular.Row) string { return r.Str(col) }}
}

// Item is one itemized line before formatting.
type Item struct {
	Primary  string
	Vendor   string
	Usage    string
	Quantity string
}

// ItemSet turns co-varying columns into a "; "-joined item list.
type ItemSet struct {
	Name   string
	Item   func(tabular.Row) Item
	Format func(Item) string
}

// Spec describes how to reduce rows into records.
type Spec struct {
	Source  string
	Key     func(tabular.Row) (Key, bool)
	Filters []Filter

	// Representative fields take the first non-empty value after rows are
	// put in canonical order.
	Representative []Field
	// Descriptive fields join sorted distinct values with ", ".
	Descriptive []Field
	Itemized    []ItemSet
	Entries     func(tabular.Row) []Entry
}

// Stats reports what happened to the input rows.
type Stats struct {
	Input   int
	Kept    int
	Records int
	Dropped map[string]int
}

// DroppedTotal sums dropped rows across filters.
func (s Stats) DroppedTotal() int {
	n := 0
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

type bucket struct {
	key  Key
	rows []canonicalRow
}

type canonicalRow struct {
	row tabular.Row
	sig string
}

// Group reduces rows into logical records. Output does not depend on the
// order of the input rows.
func Group(rows []tabular.Row, spec Spec) ([]LogicalRecord, Stats) {
	stats := Stats{Input: len(rows), Dropped: make(map[string]int)}
	buckets := make(map[string]*bucket)

rows:
	for _, row := range rows {
		for _, f := range spec.Filters {
			if !f.Keep(row) {
				stats.Dropped[f.Name]++
				continue rows
			}
		}
		key, ok := spec.Key(row)
		if !ok {
			stats.Dropped[DropKey]++
			continue
		}
		stats.Kept++

		k := key.String()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: key}
			buckets[k] = b
		}
		b.rows = append(b.rows, canonicalRow{row: row, sig: signature(row)})
	}

	records := make([]LogicalRecord, 0, len(buckets))
	for _, b := range buckets {
		if rec, ok := reduce(b, spec); ok {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key.Less(records[j].Key) })

	stats.Records = len(records)
	return records, stats
}

func reduce(b *bucket, spec Spec) (LogicalRecord, bool) {
	if len(b.rows) == 0 {
		return LogicalRecord{}, false
	}
	sort.SliceStable(b.rows, func(i, j int) bool { return b.rows[i].sig < b.rows[j].sig })

	rec := LogicalRecord{Key: b.key, Source: spec.Source}

	for _, f := range spec.Representative {
		for _, cr := range b.rows {
			if v := strings.TrimSpace(f.Value(cr.row)); v != "" {
				rec.Attributes = append(rec.Attributes, Attribute{Name: f.Name, Value: v})
				break
			}
		}
	}

	for _, f := range spec.Descriptive {
		values := make([]string, 0, len(b.rows))
		for _, cr := range b.rows {
			values = append(values, f.Value(cr.row))
		}
		if v := JoinDistinct(values, ", "); v != "" {
			rec.Attributes = append(rec.Attributes, Attribute{Name: f.Name, Value: v})
		}
	}

	for _, set := range spec.Itemized {
		if v := itemize(b.rows, set); v != "" {
			rec.Attributes = append(rec.Attributes, Attribute{Name: set.Name, Value: v})
		}
	}

	if spec.Entries != nil {
		var entries []Entry
		for _, cr := range b.rows {
			entries = append(entries, spec.Entries(cr.row)...)
		}
		rec.Entries = dedupEntries(entries)
	}

	return rec, true
}

// JoinDistinct trims values, drops empties, dedups, sorts and joins.
func JoinDistinct(values []string, sep string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, sep)
}

// IsBlankItem reports whether a primary value should be skipped.
func IsBlankItem(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "nan")
}

func itemize(rows []canonicalRow, set ItemSet) string {
	byFold := make(map[string]string)
	for _, cr := range rows {
		it := set.Item(cr.row)
		if IsBlankItem(it.Primary) {
			continue
		}
		it.Primary = strings.TrimSpace(it.Primary)
		it.Vendor = strings.TrimSpace(it.Vendor)
		it.Usage = strings.TrimSpace(it.Usage)
		it.Quantity = strings.TrimSpace(it.Quantity)

		text := set.Format(it)
		fold := strings.ToLower(text)
		if prev, ok := byFold[fold]; !ok || text < prev {
			byFold[fold] = text
		}
	}
	items := make([]string, 0, len(byFold))
	for _, v := range byFold {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		li, lj := strings.ToLower(items[i]), strings.ToLower(items[j])
		if li != lj {
			return li < lj
		}
		return items[i] < items[j]
	})
	return strings.Join(items, "; ")
}

func dedupEntries(entries []Entry) []Entry {
	seen := make(map[Entry]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e.Key = strings.TrimSpace(e.Key)
		e.Value = strings.TrimSpace(e.Value)
		if e.Key == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// signature is a canonical string for a row, used to order rows within a
// bucket independently of input order.
func signature(r tabular.Row) string {
	cols := r.Columns()
	sort.Strings(cols)
	var b strings.Builder
	for _, c := range cols {
		b.WriteString(c)
		b.WriteByte('\x1e')
		b.WriteString(r.Str(c))
		b.WriteByte('\x1f')
	}
	return b.String()
}

// CoatingItem formats "{chem} ({vendor} - {usage}) and chemical quantity is {qty}".
func CoatingItem(it Item) string {
	parts := []string{it.Primary}
	if it.Vendor != "" || it.Usage != "" {
		parts = append(parts, "("+it.Vendor+" - "+it.Usage+")")
	}
	if it.Quantity != "" {
		parts = append(parts, "and chemical quantity is "+it.Quantity)
	}
	return strings.Join(parts, " ")
}

// ProcessingItem formats "{chem} ({vendor} - {qty} Gpl)".
func ProcessingItem(it Item) string {
	return it.Primary + " (" + it.Vendor + " - " + it.Quantity + " Gpl)"
}
