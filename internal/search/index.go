// Package search provides a simple, deterministic, concurrency-safe in-memory
// retrieval index over the course corpus: plain-text and Markdown files laid
// out as data/{produtos,empresas}. It is intentionally small and
// dependency-free, but engineered with production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable, read-only index after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// chunk's token set: score = |Q ∩ C| / |Q ∪ C|.
package search

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Categories of the corpus directory layout. Files outside these
// subdirectories are ignored.
var categories = []string{"produtos", "empresas"}

// Chunk is one indexed fragment of the corpus.
type Chunk struct {
	Source   string // file path the chunk came from
	Category string // "produtos" | "empresas"
	Title    string // friendly name derived from the file name
	Text     string // chunk content
}

// Result is a ranked chunk with its similarity score.
type Result struct {
	Chunk
	Score float64
}

// Index is the minimal interface implemented by all retrieval indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minChunkRunes int
	maxChunkRunes int
	stopwords     map[string]struct{}
}

func defaultConfig() config {
	return config{
		minChunkRunes: 40,
		maxChunkRunes: 800,
		stopwords:     nil,
	}
}

// WithMinChunkRunes drops chunks shorter than n runes (headers, stray lines).
func WithMinChunkRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minChunkRunes = n
		}
	}
}

// WithMaxChunkRunes splits paragraphs longer than n runes.
func WithMaxChunkRunes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunkRunes = n
		}
	}
}

// WithStopwords removes the given words (case-insensitive) from both query
// and chunk token sets.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		c.stopwords = m
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	chunk  Chunk
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromDir walks dataDir's category subdirectories, reads every .txt
// and .md file, splits contents into paragraph chunks, and builds the index.
// Missing category directories are skipped; a missing root is an error.
func NewIndexFromDir(dataDir string, opts ...Option) (Index, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if _, err := os.Stat(dataDir); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, cat := range categories {
		dir := filepath.Join(dataDir, cat)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext != ".txt" && ext != ".md" {
				continue
			}
			path := filepath.Join(dir, e.Name())
			b, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			title := friendlyTitle(e.Name())
			for _, part := range splitParas(string(b), cfg.maxChunkRunes) {
				chunks = append(chunks, Chunk{Source: path, Category: cat, Title: title, Text: part})
			}
		}
	}
	return NewIndexFromChunks(chunks, opts...), nil
}

// NewIndexFromChunks builds an Index directly from pre-split chunks.
func NewIndexFromChunks(chunks []Chunk, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(chunks))
	for _, ch := range chunks {
		t := strings.TrimSpace(normalizeWhitespace(ch.Text))
		if t == "" {
			continue
		}
		if cfg.minChunkRunes > 0 && utf8.RuneCountInString(t) < cfg.minChunkRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		ch.Text = t
		docs = append(docs, doc{chunk: ch, tokens: toks, tLen: len(toks)})
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching chunks by Jaccard similarity.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 4
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		res      Result
		lenRunes int
	}

	buf := make([]scored, 0, len(i.docs))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= 0 {
			continue
		}
		buf = append(buf, scored{
			res:      Result{Chunk: d.chunk, Score: score},
			lenRunes: utf8.RuneCountInString(d.chunk.Text),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].res.Score != buf[b].res.Score {
			return buf[a].res.Score > buf[b].res.Score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].res.Text < buf[b].res.Text
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = buf[j].res
	}
	return out
}

// BuildContext joins the top-k results into a prompt-ready context block,
// labelling each snippet with its category and title. Returns "" when the
// query matches nothing.
func BuildContext(idx Index, query string, k int) string {
	results := idx.TopK(query, k)
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + r.Category + " / " + r.Title + "]\n")
		b.WriteString(r.Text)
	}
	return b.String()
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// splitParas splits text on blank lines, further slicing any paragraph that
// exceeds maxRunes at word boundaries.
func splitParas(raw string, maxRunes int) []string {
	chunks := paraSplitRE.Split(raw, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		t := strings.TrimSpace(c)
		if t == "" {
			continue
		}
		if maxRunes <= 0 || utf8.RuneCountInString(t) <= maxRunes {
			out = append(out, t)
			continue
		}
		words := strings.Fields(t)
		var cur strings.Builder
		curRunes := 0
		for _, w := range words {
			wr := utf8.RuneCountInString(w) + 1
			if curRunes > 0 && curRunes+wr > maxRunes {
				out = append(out, cur.String())
				cur.Reset()
				curRunes = 0
			}
			if curRunes > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(w)
			curRunes += wr
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
	}
	return out
}

// friendlyTitle turns "pos_psicologia_clinica.txt" into "Pos Psicologia Clinica".
func friendlyTitle(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")
	words := strings.Fields(base)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
	}
	return strings.Join(words, " ")
}
