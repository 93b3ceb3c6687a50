package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/vocab"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/yarncode"
)

// newDecodeCmd creates the decode subcommand.
func newDecodeCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "decode CODE...",
		Short: "Decode yarn identifiers and packed BOM columns",
		Long: `Decode explains the fixed-field codes found on BOM line items.

Kinds:
  yarn      19 character yarn identifier (default)
  texture   drawing/texturing column, e.g. FDYFLT
  shade     shade and dullness column, e.g. WHBRNIL
  props     shrinkage, elongation and tenacity column, e.g. NSHELT
  reed      reed space or number of beams`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict := codedict.Default()
			parser := yarncode.NewParser(dict)

			var records []map[string]string
			for _, code := range args {
				rec := map[string]string{"code": code}
				switch kind {
				case "yarn":
					a := parser.Decode(code)
					if !a.Valid {
						rec["error"] = fmt.Sprintf("not a %d character yarn identifier", yarncode.CodeLength)
						break
					}
					rec["type"] = a.Type
					rec["denier"] = a.Denier
					rec["count"] = a.Count
					rec["filament"] = a.Filament
					rec["composition"] = a.Composition
					rec["twist"] = a.Twist
					rec["twist_direction"] = a.TwistDirection
					rec["ply"] = a.Ply
				case "texture":
					rec["codes"] = yarncode.TextureCodes(code)
					rec["texture"] = parser.ResolveTexture(code)
				case "shade":
					shade, dullness := yarncode.ShadeCodes(code)
					rec["shade"] = shade
					rec["dullness"] = dict.Resolve(dullness, codedict.DomainDullness)
				case "props":
					s, e, t := yarncode.PropertyCodes(code)
					rec["shrinkage"] = dict.Resolve(s, codedict.DomainShrinkage)
					rec["elongation"] = dict.Resolve(e, codedict.DomainElongation)
					rec["tenacity"] = dict.Resolve(t, codedict.DomainTenacity)
				case "reed":
					rec["reed_space"], rec["beams"] = yarncode.SplitReedSpace(code)
				default:
					return fmt.Errorf("unknown kind %q (yarn, texture, shade, props, reed)", kind)
				}
				records = append(records, rec)
			}

			if outputJSON {
				return printJSON(records)
			}

			ui := NewUI(false, noColor)
			for _, rec := range records {
				ui.Section(rec["code"])
				if msg, ok := rec["error"]; ok {
					ui.Error("%s", msg)
					continue
				}
				for _, k := range sortedFields(rec) {
					if k != "code" && rec[k] != "" {
						ui.KeyValue(k, rec[k])
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "yarn", "code kind (yarn, texture, shade, props, reed)")
	return cmd
}

// newResolveCmd creates the resolve subcommand.
func newResolveCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "resolve DOMAIN CODE...",
		Short: "Resolve shorthand codes against a dictionary domain",
		Long: `Resolve looks codes up in one rule table of the code dictionary and
shows the label and the winning rule. Use --list to print the domains.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dict := codedict.Default()

			if list {
				domains := make([]string, 0)
				for _, d := range dict.Domains() {
					domains = append(domains, string(d))
				}
				sort.Strings(domains)
				if outputJSON {
					return printJSON(domains)
				}
				for _, d := range domains {
					fmt.Println(d)
				}
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("usage: resolve DOMAIN CODE... (see --list)")
			}
			domain := codedict.Domain(args[0])
			if _, ok := dict.Table(domain); !ok {
				return fmt.Errorf("unknown domain %q (see --list)", args[0])
			}

			type resolution struct {
				Code    string `json:"code"`
				Label   string `json:"label"`
				Matched bool   `json:"matched"`
				Rule    int    `json:"rule"`
			}
			var out []resolution
			for _, code := range args[1:] {
				r := dict.Lookup(code, domain)
				out = append(out, resolution{Code: code, Label: r.Label, Matched: r.Matched, Rule: r.RuleIndex})
			}

			if outputJSON {
				return printJSON(out)
			}
			rows := make([][]string, 0, len(out))
			for _, r := range out {
				rule := "-"
				if r.Rule >= 0 {
					rule = fmt.Sprint(r.Rule)
				}
				matched := "no"
				if r.Matched {
					matched = "yes"
				}
				rows = append(rows, []string{r.Code, r.Label, matched, rule})
			}
			NewUI(false, noColor).Table([]string{"Code", "Label", "Matched", "Rule"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list dictionary domains")
	return cmd
}

// newVocabCmd creates the vocab subcommand.
func newVocabCmd() *cobra.Command {
	var (
		artifact string
		match    string
	)

	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Print the stage vocabulary of the published run",
		Long: `Vocab prints the process names and per-stage parameter names of the
published run as YAML. With --artifact the vocabulary is derived from a
chunk JSON file instead of the database. --match lists the process names
found in a piece of text.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			var v vocab.Vocabulary
			if artifact != "" {
				chunks, err := storage.ReadJSONArtifact(artifact)
				if err != nil {
					return fmt.Errorf("read artifact: %w", err)
				}
				v = vocab.Derive(chunks)
			} else {
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				run, err := latestRun(ctx, store)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("no published run; use --artifact or run the pipeline first")
				}
				if v, err = store.Vocabulary.Get(ctx, run.ID); err != nil {
					return fmt.Errorf("load vocabulary: %w", err)
				}
			}

			if match != "" {
				stages := v.MatchStages(match)
				if outputJSON {
					return printJSON(map[string][]string{"stages": stages})
				}
				for _, s := range stages {
					fmt.Printf("%s: %s\n", s, strings.Join(v.MatchParameters(s, match), ", "))
				}
				return nil
			}

			if outputJSON {
				return printJSON(v)
			}
			data, err := v.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&artifact, "artifact", "", "derive from a chunk JSON file")
	cmd.Flags().StringVar(&match, "match", "", "list process names occurring in text")
	return cmd
}

// newChunksCmd creates the chunks subcommand.
func newChunksCmd() *cobra.Command {
	var (
		filter  storage.ChunkFilter
		id      string
		search  string
		stages  bool
		content bool
	)

	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "List chunks of the published run",
		Long: `Chunks lists the published chunks in output order, filtered by stage,
article or source. Use --id to show one chunk with its metadata, --search
for a keyword match and --stages for the distinct stage tags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := latestRun(ctx, store)
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("no published run")
			}

			ui := NewUI(outputJSON, noColor)

			switch {
			case stages:
				list, err := store.ChunkView.Stages(ctx, run.ID)
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(list)
				}
				for _, s := range list {
					fmt.Println(s)
				}
				return nil

			case id != "":
				c, err := store.Chunks.GetByChunkID(ctx, run.ID, id)
				if err != nil {
					return fmt.Errorf("chunk %s: %w", id, err)
				}
				if outputJSON {
					return printJSON(c)
				}
				ui.Section(c.ID)
				fmt.Println(c.Content)
				fmt.Println()
				keys := make([]string, 0, len(c.Metadata))
				for k := range c.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					ui.KeyValue(k, c.Metadata[k])
				}
				return nil
			}

			var chunks []chunking.Chunk
			total := 0
			if search != "" {
				chunks, err = store.ChunkView.SearchByKeyword(ctx, run.ID, search, filter.Limit)
				total = len(chunks)
			} else {
				var res *storage.ChunkViewResult
				res, err = store.ChunkView.Query(ctx, run.ID, filter)
				if res != nil {
					chunks, total = res.Chunks, res.TotalCount
				}
			}
			if err != nil {
				return fmt.Errorf("list chunks: %w", err)
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"runId":  run.ID.String(),
					"total":  total,
					"chunks": chunks,
				})
			}

			if content {
				for _, c := range chunks {
					ui.Section(c.ID)
					fmt.Println(c.Content)
				}
			} else {
				rows := make([][]string, 0, len(chunks))
				for _, c := range chunks {
					rows = append(rows, []string{c.ID, c.Stage, c.Article, c.Source, fmt.Sprint(len(c.Metadata))})
				}
				ui.Table([]string{"Chunk", "Stage", "Article", "Source", "Metadata"}, rows)
			}
			ui.Info("%d of %d chunks from run %s", len(chunks), total, run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Stage, "stage", "", "filter by stage tag")
	cmd.Flags().StringVar(&filter.Article, "article", "", "filter by article")
	cmd.Flags().StringVar(&filter.Source, "source", "", "filter by source (Route, BOM, Quality)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum chunks to list")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "chunks to skip")
	cmd.Flags().StringVar(&id, "id", "", "show one chunk")
	cmd.Flags().StringVar(&search, "search", "", "keyword to search in content")
	cmd.Flags().BoolVar(&stages, "stages", false, "list distinct stage tags")
	cmd.Flags().BoolVar(&content, "content", false, "print chunk content instead of a table")
	return cmd
}

func sortedFields(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
