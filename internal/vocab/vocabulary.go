package vocab

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
)

// BaseProcessNames are always recognized, whether or not a run produced
// chunks for them.
var BaseProcessNames = []string{
	"ageing", "beaming", "calendaring", "calendering", "coating", "curing",
	"direct warping", "dry", "dry print", "drying", "dye wash",
	"dyeing and washing", "finishing", "heat set", "pigment", "print wash",
	"printing", "processing", "ptg", "scouring", "scouring and dyeing",
	"scouring and washing", "scouring, drying and washing",
	"sectional warping", "sizing", "testing after coating",
	"testing after printing", "testing after processing",
	"testing after weaving", "vdr", "warp and weft yarn details", "washing",
	"weaving",
}

// excludedParameters are metadata keys that never count as a parameter.
var excludedParameters = map[string]bool{
	"article":     true,
	"design_name": true,
	"item id":     true,
	"item_id":     true,
	"route name":  true,
	"stage":       true,
	"operation":   true,
}

// Vocabulary is the literal stage and parameter spelling contract.
type Vocabulary struct {
	ProcessNames      []string            `yaml:"process_names" json:"process_names"`
	ProcessParameters map[string][]string `yaml:"process_parameters" json:"process_parameters"`
}

// Derive collects process names from each chunk's stage (or operation)
// and, per process, the lowercased metadata keys seen with it.
func Derive(chunks []chunking.Chunk) Vocabulary {
	params := make(map[string]map[string]struct{})
	names := make(map[string]struct{}, len(BaseProcessNames))
	for _, n := range BaseProcessNames {
		names[n] = struct{}{}
	}

	for _, c := range chunks {
		stage := c.Metadata[chunking.KeyStage]
		if stage == "" {
			stage = c.Metadata[chunking.KeyOperation]
		}
		stage = strings.ToLower(strings.TrimSpace(stage))
		if stage == "" {
			continue
		}
		names[stage] = struct{}{}
		if params[stage] == nil {
			params[stage] = make(map[string]struct{})
		}
		for k := range c.Metadata {
			key := strings.ToLower(strings.TrimSpace(k))
			if excludedParameters[key] || isGenerated(k) {
				continue
			}
			params[stage][key] = struct{}{}
		}
	}

	v := Vocabulary{
		ProcessNames:      sortedKeys(names),
		ProcessParameters: make(map[string][]string, len(params)),
	}
	for stage, set := range params {
		v.ProcessParameters[stage] = sortedKeys(set)
	}
	return v
}

// isGenerated reports keys added by the chunk builder or normalizer rather
// than read from a sheet.
func isGenerated(k string) bool {
	if k == chunking.KeySame {
		return true
	}
	return chunking.IsStructuralKey(k) && k != chunking.KeyOriginalStageName
}

// MatchStages returns the process names that occur in text,
// case-insensitively, longest first.
func (v Vocabulary) MatchStages(text string) []string {
	return matchLiterals(v.ProcessNames, text)
}

// MatchParameters returns the parameters of stage that occur in text.
func (v Vocabulary) MatchParameters(stage, text string) []string {
	return matchLiterals(v.ProcessParameters[strings.ToLower(strings.TrimSpace(stage))], text)
}

// YAML renders the vocabulary for export.
func (v Vocabulary) YAML() ([]byte, error) {
	return yaml.Marshal(v)
}

// ParseYAML reads a vocabulary written by YAML.
func ParseYAML(data []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, err
	}
	return v, nil
}

func matchLiterals(candidates []string, text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, c := range candidates {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
