package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	// DefaultChunkSize is the target passage length in characters.
	DefaultChunkSize = 800
	// DefaultChunkOverlap bounds the trailing text repeated at the start of
	// the next passage.
	DefaultChunkOverlap = 150
)

// Chunker packs sentences into passages of at most Size characters using a
// recursive character splitter. Sentences are kept whole when they fit and
// fall back to word and then character cuts when they do not. A new passage
// repeats the trailing sentences of the previous one while they fit in
// Overlap characters.
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// NewChunker returns a chunker. Non-positive values select the defaults and
// an overlap not smaller than size is reduced to a quarter of it.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators([]string{sentenceBreak, " ", ""}),
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// sentenceBreak separates sentences handed to the splitter. splitSentences
// collapses whitespace, so it never occurs inside a sentence.
const sentenceBreak = "\n"

// Split breaks text into passages.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces, err := c.splitter.SplitText(strings.Join(splitSentences(text), sentenceBreak))
	if err != nil {
		return []string{strings.Join(strings.Fields(text), " ")}
	}
	chunks := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.ReplaceAll(p, sentenceBreak, " "); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

// ChunkText splits a single body of text into passages of documentID.
func (c *Chunker) ChunkText(text, documentID, filename string) []vectorstore.Passage {
	return c.Chunk([]Section{{Page: 1, Text: text}}, documentID, map[string]any{
		vectorstore.MetaFilename: filename,
	})
}

// Chunk splits every section and numbers the passages across the whole
// document. Each passage gets a copy of meta plus chunk_index, page_number
// and, when the section has a title, section.
func (c *Chunker) Chunk(sections []Section, documentID string, meta map[string]any) []vectorstore.Passage {
	var out []vectorstore.Passage
	for _, sec := range sections {
		page := sec.Page
		if page <= 0 {
			page = 1
		}
		for _, text := range c.Split(sec.Text) {
			seq := len(out)
			m := make(map[string]any, len(meta)+3)
			for k, v := range meta {
				m[k] = v
			}
			m[vectorstore.MetaChunkIndex] = seq
			m[vectorstore.MetaPage] = page
			if sec.Title != "" {
				m[vectorstore.MetaSection] = sec.Title
			}
			out = append(out, vectorstore.Passage{
				DocumentID: documentID,
				Content:    text,
				Seq:        seq,
				Metadata:   m,
			})
		}
	}
	return out
}

// splitSentences splits after '.', '!' or '?' followed by whitespace, and at
// blank lines. Whitespace inside a sentence is collapsed.
func splitSentences(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(b.String()), " "); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	r := []rune(text)
	for i := 0; i < len(r); i++ {
		b.WriteRune(r[i])
		next := i + 1
		if next >= len(r) {
			break
		}
		switch {
		case (r[i] == '.' || r[i] == '!' || r[i] == '?') && unicode.IsSpace(r[next]):
			flush()
		case r[i] == '\n' && r[next] == '\n':
			flush()
		}
	}
	flush()
	return out
}
