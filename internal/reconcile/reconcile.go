// Package reconcile joins and relabels records coming from structurally
// different source sheets.
package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/grouping"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/tabular"
)

// ErrMissingColumn reports a structurally required column absent from a sheet.
var ErrMissingColumn = errors.New("required column missing")

// MissingColumnError names the source, sheet and column that drifted.
type MissingColumnError struct {
	Source string
	Sheet  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: sheet %q: column %q: %v", e.Source, e.Sheet, e.Column, ErrMissingColumn)
}

// Unwrap lets errors.Is match ErrMissingColumn.
func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// RequireColumns fails on the first column absent from the sheet header.
// Columns that exist but hold no values are fine.
func RequireColumns(source string, sheet *tabular.Sheet, cols ...string) error {
	for _, c := range cols {
		if !sheet.HasColumn(c) {
			return &MissingColumnError{Source: source, Sheet: sheet.Name, Column: c}
		}
	}
	return nil
}

// JoinOptions configure Merge.
type JoinOptions struct {
	// Key extracts the join key; records with an empty key are dropped.
	// Defaults to the numeric article.
	Key         func(grouping.LogicalRecord) string
	LeftSuffix  string
	RightSuffix string
	// Stage is the stage tag of merged records.
	Stage grouping.Stage
}

// Default suffixes for colliding attribute names.
const (
	WarpSuffix = "_warp"
	WeftSuffix = "_weft"
)

func (o JoinOptions) withDefaults() JoinOptions {
	if o.Key == nil {
		o.Key = func(r grouping.LogicalRecord) string { return r.Key.Article.Numeric }
	}
	if o.LeftSuffix == "" {
		o.LeftSuffix = WarpSuffix
	}
	if o.RightSuffix == "" {
		o.RightSuffix = WeftSuffix
	}
	if o.Stage == "" {
		o.Stage = grouping.StageWarpWeft
	}
	return o
}

// Merge inner-joins two record sets one-to-one. Each side is first reduced
// to its first record per key in key order; keys present on one side only
// are dropped. Attribute names present on both sides get the side suffix.
func Merge(left, right []grouping.LogicalRecord, opts JoinOptions) []grouping.LogicalRecord {
	opts = opts.withDefaults()

	l := firstPerKey(left, opts.Key)
	r := firstPerKey(right, opts.Key)

	keys := make([]string, 0, len(l))
	for k := range l {
		if _, ok := r[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]grouping.LogicalRecord, 0, len(keys))
	for _, k := range keys {
		a, b := l[k], r[k]

		names := make(map[string]int)
		for _, attr := range a.Attributes {
			names[attr.Name]++
		}
		for _, attr := range b.Attributes {
			names[attr.Name] += 2
		}

		merged := grouping.LogicalRecord{
			Key:    grouping.Key{Article: a.Key.Article, Stage: opts.Stage},
			Source: a.Source,
		}
		for _, attr := range a.Attributes {
			if names[attr.Name] == 3 {
				attr.Name += opts.LeftSuffix
			}
			merged.Attributes = append(merged.Attributes, attr)
		}
		for _, attr := range b.Attributes {
			if names[attr.Name] == 3 {
				attr.Name += opts.RightSuffix
			}
			merged.Attributes = append(merged.Attributes, attr)
		}
		merged.Entries = append(append([]grouping.Entry(nil), a.Entries...), b.Entries...)
		out = append(out, merged)
	}
	return out
}

func firstPerKey(records []grouping.LogicalRecord, key func(grouping.LogicalRecord) string) map[string]grouping.LogicalRecord {
	sorted := append([]grouping.LogicalRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key.Less(sorted[j].Key) })

	out := make(map[string]grouping.LogicalRecord, len(sorted))
	for _, rec := range sorted {
		k := key(rec)
		if k == "" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = rec
		}
	}
	return out
}

// StripSuffix removes a trailing join suffix from an attribute name. With
// no suffixes given the default warp and weft suffixes are tried.
func StripSuffix(name string, suffixes ...string) string {
	if len(suffixes) == 0 {
		suffixes = []string{WarpSuffix, WeftSuffix}
	}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return strings.TrimSuffix(name, s)
		}
	}
	return name
}

// StageAliases maps raw stage tags to canonical ones. Matching is
// case-insensitive.
type StageAliases map[string]grouping.Stage

// DefaultStageAliases relabels the BOM griege sheet to the weft vocabulary
// used by quality data.
func DefaultStageAliases() StageAliases {
	return StageAliases{"Griege": grouping.StageWeft}
}

// Canonical returns the canonical tag for stage and whether an alias matched.
func (a StageAliases) Canonical(stage string) (grouping.Stage, bool) {
	for alias, canon := range a {
		if strings.EqualFold(strings.TrimSpace(stage), alias) {
			return canon, true
		}
	}
	return grouping.Stage(stage), false
}

// stageFields hold the stage tag in record attributes and chunk metadata.
var stageFields = []string{chunking.KeySheet, chunking.KeyStage, chunking.KeyOperation, chunking.KeyProcess}

// RelabelRecords rewrites aliased stage tags on records and on any stage
// attribute holding the old tag.
func RelabelRecords(records []grouping.LogicalRecord, aliases StageAliases) []grouping.LogicalRecord {
	out := make([]grouping.LogicalRecord, 0, len(records))
	for _, rec := range records {
		canon, ok := aliases.Canonical(string(rec.Key.Stage))
		if !ok {
			out = append(out, rec)
			continue
		}
		rec = rec.WithStage(canon)
		for _, f := range stageFields {
			if _, hit := aliases.Canonical(rec.Get(f)); hit {
				rec = rec.With(f, string(canon))
			}
		}
		out = append(out, rec)
	}
	return out
}

// RelabelChunks rewrites aliased stage tags on chunks: the stage, the chunk
// ID, stage metadata fields, and whole-word occurrences of the old tag in
// content and metadata values.
func RelabelChunks(chunks []chunking.Chunk, aliases StageAliases) []chunking.Chunk {
	patterns := make(map[string]tagPatterns)
	out := make([]chunking.Chunk, 0, len(chunks))
	for _, c := range chunks {
		old := strings.TrimSpace(c.Stage)
		canon, ok := aliases.Canonical(old)
		if !ok {
			out = append(out, c)
			continue
		}
		p, seen := patterns[old]
		if !seen {
			p = newTagPatterns(old)
			patterns[old] = p
		}
		replacement := string(canon)

		c = c.Clone()
		c.Stage = replacement
		c.ID = p.id.ReplaceAllLiteralString(c.ID, replacement)
		c.Content = p.word.ReplaceAllLiteralString(c.Content, replacement)
		for k, v := range c.Metadata {
			if isStageField(k) {
				if _, hit := aliases.Canonical(v); hit {
					c.Metadata[k] = replacement
					continue
				}
			}
			c.Metadata[k] = p.word.ReplaceAllLiteralString(v, replacement)
		}
		out = append(out, c)
	}
	return out
}

type tagPatterns struct {
	// id matches the tag anywhere in an ID such as "Griege_8228_1".
	id *regexp.Regexp
	// word matches the tag as spelled, so lowercase prose such as
	// "griege fabric" is left alone.
	word *regexp.Regexp
}

func newTagPatterns(tag string) tagPatterns {
	q := regexp.QuoteMeta(tag)
	return tagPatterns{
		id:   regexp.MustCompile(`(?i)` + q),
		word: regexp.MustCompile(`\b` + q + `\b`),
	}
}

func isStageField(k string) bool {
	for _, f := range stageFields {
		if k == f {
			return true
		}
	}
	return false
}
