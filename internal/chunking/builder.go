package chunking

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/observability"
)

// DefaultTokenBudget is the maximum measured size of a chunk's content.
const DefaultTokenBudget = 550

// Builder turns documents into chunks within a token budget.
type Builder struct {
	counter TokenCounter
	budget  int
	logger  *observability.Logger
}

// NewBuilder creates a builder. A non-positive budget uses DefaultTokenBudget.
func NewBuilder(counter TokenCounter, budget int, logger *observability.Logger) *Builder {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if counter == nil {
		counter = ApproxCounter{Multiplier: 1.3}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Builder{counter: counter, budget: budget, logger: logger}
}

// Budget returns the configured token budget.
func (b *Builder) Budget() int { return b.budget }

// Counter returns the token counter in use.
func (b *Builder) Counter() TokenCounter { return b.counter }

// Build renders doc and enforces the token budget.
func (b *Builder) Build(doc Document) []Chunk {
	// Step 1: render content
	content := strings.TrimSpace(doc.Render())

	// Step 2: metadata
	meta := Metadata(doc)

	base := Chunk{
		ID:      doc.ID,
		Stage:   string(doc.Stage),
		Article: doc.Article.Full,
		Source:  doc.Source,
	}

	// Step 3: token budget
	if b.counter.Count(content) <= b.budget {
		c := base
		c.Content = content
		c.Metadata = meta
		return []Chunk{c}
	}

	fragments := b.split(content, IdentityPhrase(doc.Article), IdentitySentence(doc.Article, doc.Stage))
	chunks := make([]Chunk, 0, len(fragments))
	for i, frag := range fragments {
		part := i + 1
		c := base
		c.ID = doc.ID + partSuffix(part)
		c.Content = frag
		c.Part = part
		c.IsSplit = true
		c.Metadata = FilterMetadata(meta, frag, doc.KeyAliases)
		c.Metadata[KeyChunkPart] = strconv.Itoa(part)
		c.Metadata[KeyIsSplitChunk] = "true"
		chunks = append(chunks, c)
	}

	b.logger.Debug().
		Str("chunk_id", doc.ID).
		Int("parts", len(chunks)).
		Int("budget", b.budget).
		Msg("Split oversized chunk")

	return chunks
}

// split packs sentences greedily into fragments. Sentences that do not fit
// on their own are packed word by word. Every fragment carries the identity
// phrase, and the budget is measured with it in place.
func (b *Builder) split(content, phrase, identity string) []string {
	var (
		frags []string
		cur   []string
	)
	withIdentity := func(text string) string {
		if strings.Contains(text, phrase) {
			return text
		}
		return identity + " " + text
	}
	fits := func(pieces ...string) bool {
		text := strings.Join(append(append([]string(nil), cur...), pieces...), " ")
		return b.counter.Count(withIdentity(text)) <= b.budget
	}
	flush := func() {
		if len(cur) > 0 {
			frags = append(frags, withIdentity(strings.Join(cur, " ")))
			cur = nil
		}
	}

	for _, sentence := range SplitSentences(content) {
		if fits(sentence) {
			cur = append(cur, sentence)
			continue
		}
		flush()
		if fits(sentence) {
			cur = append(cur, sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			if !fits(word) {
				flush()
			}
			cur = append(cur, word)
		}
	}
	flush()
	return frags
}

// SplitSentences splits after '.', '!' or '?' when followed by whitespace.
// Surrounding whitespace is trimmed from each sentence.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// Metadata computes the full metadata of a document: every non-empty
// attribute, the article under each alias key, full_article, stage and
// operation, and source.
func Metadata(doc Document) map[string]string {
	meta := make(map[string]string, len(doc.Attributes)+len(ArticleAliases)+4)
	for _, a := range doc.Attributes {
		if v := strings.TrimSpace(a.Value); v != "" {
			meta[a.Name] = v
		}
	}

	numeric := doc.Article.Numeric
	if numeric == "" {
		numeric = doc.Article.Full
	}
	for _, alias := range ArticleAliases {
		meta[alias] = numeric
	}
	meta[KeyFullArticle] = doc.Article.Full

	if _, ok := meta[KeyStage]; !ok {
		meta[KeyStage] = string(doc.Stage)
	}
	if _, ok := meta[KeyOperation]; !ok {
		meta[KeyOperation] = string(doc.Stage)
	}
	if doc.Source != "" {
		meta[KeySource] = doc.Source
	}
	return meta
}

// FilterMetadata keeps structural keys plus any key whose name (or a known
// alias of it) and value both occur in text, case-insensitively.
func FilterMetadata(meta map[string]string, text string, aliases map[string][]string) map[string]string {
	lower := strings.ToLower(text)
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if IsStructuralKey(k) {
			out[k] = v
			continue
		}
		if v == "" || !strings.Contains(lower, strings.ToLower(v)) {
			continue
		}
		if mentionsKey(lower, k, aliases[k]) {
			out[k] = v
		}
	}
	return out
}

func mentionsKey(lower, key string, aliases []string) bool {
	k := strings.ToLower(key)
	candidates := []string{
		k,
		strings.ReplaceAll(k, "_", " "),
		strings.ReplaceAll(k, " ", ""),
	}
	for _, a := range aliases {
		a = strings.ToLower(a)
		candidates = append(candidates, a, strings.ReplaceAll(a, "-", " "), strings.ReplaceAll(a, " ", ""))
	}
	for _, c := range candidates {
		if c != "" && strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
