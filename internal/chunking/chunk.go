// Package chunking renders logical records into bounded-size text chunks
// with flat string metadata.
package chunking

import (
	"strconv"
	"strings"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/grouping"
)

// Metadata keys shared by every chunk.
const (
	KeyFullArticle       = "full_article"
	KeyStage             = "stage"
	KeyOperation         = "operation"
	KeySheet             = "sheet"
	KeyProcess           = "process"
	KeySource            = "source"
	KeyOriginalStageName = "original_stage_name"
	KeyChunkPart         = "chunk_part"
	KeyIsSplitChunk      = "is_split_chunk"
	KeySame              = "same"
)

// ArticleAliases are the metadata keys the numeric article is exposed under.
var ArticleAliases = []string{"article", "article_no", "article no", "article number", "fabric"}

// structuralKeys survive metadata filtering on split fragments.
var structuralKeys = func() map[string]bool {
	m := map[string]bool{
		KeyFullArticle:       true,
		KeyStage:             true,
		KeyOperation:         true,
		KeySheet:             true,
		KeySource:            true,
		KeyOriginalStageName: true,
		KeyChunkPart:         true,
		KeyIsSplitChunk:      true,
	}
	for _, a := range ArticleAliases {
		m[a] = true
	}
	return m
}()

// IsStructuralKey reports whether key is kept on every split fragment.
func IsStructuralKey(key string) bool {
	return structuralKeys[key]
}

// Chunk is the retrievable output unit.
type Chunk struct {
	ID       string            `json:"chunk_id"`
	Stage    string            `json:"stage"`
	Article  string            `json:"article"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`

	Source  string `json:"-"`
	Part    int    `json:"-"`
	IsSplit bool   `json:"-"`
}

// Clone returns a deep copy.
func (c Chunk) Clone() Chunk {
	out := c
	out.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// Document is a record ready to be rendered. Content is Intro followed by
// Items joined with Separator and then Terminator.
type Document struct {
	ID      string
	Stage   grouping.Stage
	Article grouping.ArticleKey
	Source  string

	Intro      string
	Items      []string
	Separator  string
	Terminator string

	// Attributes become metadata entries when non-empty.
	Attributes []grouping.Attribute
	// KeyAliases lists short forms of metadata keys; a split fragment keeps
	// the key when any of them occurs in its text.
	KeyAliases map[string][]string
}

// Render returns the full content string.
func (d Document) Render() string {
	sep := d.Separator
	if sep == "" {
		sep = "; "
	}
	return d.Intro + strings.Join(d.Items, sep) + d.Terminator
}

// IdentityPhrase is the literal every split fragment must contain.
func IdentityPhrase(article grouping.ArticleKey) string {
	return "Article " + article.Full
}

// IdentitySentence is prepended to split fragments missing the phrase.
func IdentitySentence(article grouping.ArticleKey, stage grouping.Stage) string {
	return IdentityPhrase(article) + " belongs to " + string(stage) + " stage."
}

func partSuffix(n int) string {
	return "_part" + strconv.Itoa(n)
}
