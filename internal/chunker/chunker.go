package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Common errors for chunker configuration
var (
	ErrBadChunkConfig = errors.New("invalid chunker configuration")
)

// ChunkType classifies a chunk for storage filtering and context assembly.
type ChunkType string

const (
	TypeOutline   ChunkType = "outline"
	TypeScene     ChunkType = "scene"
	TypeCharacter ChunkType = "character"
	TypeSetting   ChunkType = "setting"
	TypeEvent     ChunkType = "event"
)

// KnownTypes returns every chunk type the pipeline indexes.
func KnownTypes() []ChunkType {
	return []ChunkType{TypeOutline, TypeScene, TypeCharacter, TypeSetting, TypeEvent}
}

// Chunk is a bounded unit of narrative text plus the metadata that travels
// with it into the vector store.
type Chunk struct {
	Content       string         `json:"content"`
	Type          ChunkType      `json:"chunk_type"`
	Subtype       string         `json:"chunk_subtype,omitempty"`
	Title         string         `json:"title,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ChapterNumber int            `json:"chapter_number,omitempty"` // 0 means unset
	SceneNumber   int            `json:"scene_number,omitempty"`   // 0 means unset
}

// Options carries the tagging applied to every chunk produced by one call.
type Options struct {
	Type          ChunkType
	Subtype       string
	Title         string
	Metadata      map[string]any
	ChapterNumber int
	SceneNumber   int
}

// Chunker splits narrative text into bounded chunks with sentence-aligned
// overlap between neighbors. Configuration is immutable after construction.
type Chunker struct {
	maxChunkSize int
	overlapSize  int
}

const (
	DefaultMaxChunkSize = 1000
	DefaultOverlapSize  = 200
)

// New creates a Chunker. The overlap must be strictly smaller than the chunk
// size; otherwise every chunk would be dominated by its neighbors' text.
func New(maxChunkSize, overlapSize int) (*Chunker, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", ErrBadChunkConfig, maxChunkSize)
	}
	if overlapSize < 0 {
		return nil, fmt.Errorf("%w: overlap size cannot be negative, got %d", ErrBadChunkConfig, overlapSize)
	}
	if overlapSize >= maxChunkSize {
		return nil, fmt.Errorf("%w: overlap size %d must be smaller than max chunk size %d", ErrBadChunkConfig, overlapSize, maxChunkSize)
	}
	return &Chunker{maxChunkSize: maxChunkSize, overlapSize: overlapSize}, nil
}

// NewDefault creates a Chunker with the default size and overlap.
func NewDefault() *Chunker {
	c, _ := New(DefaultMaxChunkSize, DefaultOverlapSize)
	return c
}

// MaxChunkSize returns the configured chunk size bound.
func (c *Chunker) MaxChunkSize() int { return c.maxChunkSize }

// OverlapSize returns the configured overlap size.
func (c *Chunker) OverlapSize() int { return c.overlapSize }

var paragraphSplitter = regexp.MustCompile(`\n\s*\n`)

// ChunkText splits text into chunks no larger than the configured bound,
// except that a single sentence longer than the bound is kept whole rather
// than cut mid-token. Empty or whitespace-only input yields no chunks.
//
// Text that fits the bound is returned verbatim as one chunk. Larger text is
// split on paragraph boundaries; if any single paragraph overflows the bound
// the whole text is re-split on sentence boundaries instead. Units are packed
// first-fit in order, never reordered and never split.
func (c *Chunker) ChunkText(text string, opts Options) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	// Text that fits is returned exactly as given, padding included.
	if len(text) <= c.maxChunkSize {
		return []Chunk{newChunk(text, opts)}
	}
	if len(trimmed) <= c.maxChunkSize {
		return []Chunk{newChunk(trimmed, opts)}
	}

	units := splitParagraphs(trimmed)
	sep := "\n\n"
	for _, u := range units {
		if len(u) > c.maxChunkSize {
			units = splitSentences(trimmed)
			sep = " "
			break
		}
	}

	contents := packUnits(units, sep, c.maxChunkSize)
	if len(contents) > 1 && c.overlapSize > 0 {
		contents = c.applyOverlap(contents)
	}

	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = newChunk(content, opts)
	}
	return chunks
}

func newChunk(content string, opts Options) Chunk {
	return Chunk{
		Content:       content,
		Type:          opts.Type,
		Subtype:       opts.Subtype,
		Title:         opts.Title,
		Metadata:      cloneMetadata(opts.Metadata),
		ChapterNumber: opts.ChapterNumber,
		SceneNumber:   opts.SceneNumber,
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	clone := make(map[string]any, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

func splitParagraphs(text string) []string {
	parts := paragraphSplitter.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences splits on '.', '!' or '?' followed by whitespace (or end of
// text), keeping the terminator with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || isSpace(text[i+1]) {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// packUnits packs consecutive units into chunks first-fit: a unit is appended
// to the running buffer unless doing so would exceed the bound, in which case
// the buffer is flushed first. A unit larger than the bound becomes its own
// chunk, kept whole.
func packUnits(units []string, sep string, maxSize int) []string {
	var chunks []string
	var buf strings.Builder
	for _, unit := range units {
		if buf.Len() > 0 && buf.Len()+len(sep)+len(unit) > maxSize {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(unit)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// applyOverlap decorates each chunk with boundary context from its neighbors.
// Overlap text is always drawn from the neighbor's content before decoration,
// so overlap never compounds across chunks.
func (c *Chunker) applyOverlap(contents []string) []string {
	decorated := make([]string, len(contents))
	for i, content := range contents {
		out := content
		if i > 0 {
			if prev := overlapTail(contents[i-1], c.overlapSize); prev != "" {
				out = "[Previous context: " + prev + "]\n\n" + out
			}
		}
		if i < len(contents)-1 {
			if next := overlapHead(contents[i+1], c.overlapSize); next != "" {
				out = out + "\n\n[Next context: " + next + "]"
			}
		}
		decorated[i] = out
	}
	return decorated
}

// overlapTail returns up to size trailing bytes of content, advanced to the
// first sentence boundary inside the window so it starts on a whole sentence
// when one exists. The window edge snaps forward to a rune boundary so the
// overlap never starts mid-rune.
func overlapTail(content string, size int) string {
	if len(content) > size {
		start := len(content) - size
		for start < len(content) && !utf8.RuneStart(content[start]) {
			start++
		}
		content = content[start:]
	}
	for i := 0; i < len(content)-1; i++ {
		switch content[i] {
		case '.', '!', '?':
			if isSpace(content[i+1]) {
				return strings.TrimSpace(content[i+1:])
			}
		}
	}
	return strings.TrimSpace(content)
}

// overlapHead returns up to size leading bytes of content, cut back to the
// last sentence boundary inside the window so it ends on a whole sentence
// when one exists. The window edge snaps back to a rune boundary so the
// overlap never ends mid-rune.
func overlapHead(content string, size int) string {
	if len(content) > size {
		end := size
		for end > 0 && !utf8.RuneStart(content[end]) {
			end--
		}
		content = content[:end]
	}
	for i := len(content) - 1; i > 0; i-- {
		switch content[i] {
		case '.', '!', '?':
			if i+1 == len(content) || isSpace(content[i+1]) {
				return strings.TrimSpace(content[:i+1])
			}
		}
	}
	return strings.TrimSpace(content)
}
