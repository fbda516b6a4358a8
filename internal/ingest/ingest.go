// Package ingest turns files into ordered sequences of text chunks.
//
// Parsing strategy is selected by file extension against a fixed dispatch
// table. Strategies differ in chunk granularity and metadata richness, but
// all produce the same Chunk shape. A chunk is emitted only if its text is
// non-empty after trimming.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrParse indicates corrupt or unparseable content.
	ErrParse = errors.New("failed to parse document")

	// ErrUnsupported indicates a file extension with no parser strategy.
	ErrUnsupported = errors.New("unsupported file type")
)

// Chunk is a unit of extracted text with provenance metadata.
type Chunk struct {
	// ID is unique within a source file: "<stem>_<index>". Repeated
	// ingestion of an unchanged file reproduces the same IDs.
	ID string

	// Text is the extracted chunk text, non-empty after trimming.
	Text string

	// Source is the path of the originating file.
	Source string

	// ElementType describes the structural element the chunk came from.
	ElementType string

	// Metadata holds per-chunk scalar metadata. Values are restricted to
	// string, number, bool and nil; anything else is stringified.
	Metadata map[string]any
}

// section is an intermediate parse result before chunk assembly.
type section struct {
	text        string
	elementType string
	metadata    map[string]any
}

// parseFunc extracts sections from a file.
type parseFunc func(path string, splitter textSplitter) ([]section, error)

// Config holds chunking policy.
type Config struct {
	// MaxChunkChars is the maximum chunk size in characters.
	// Default: 1200
	MaxChunkChars int

	// ChunkOverlap is the number of trailing characters carried into the
	// next chunk when a section is split. Default: 150
	ChunkOverlap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxChunkChars <= 0 {
		c.MaxChunkChars = 1200
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkChars {
		c.ChunkOverlap = 150
	}
}

// Ingestor decomposes documents into chunks.
type Ingestor struct {
	cfg     Config
	parsers map[string]parseFunc
}

// New creates an ingestor with the fixed extension dispatch table.
func New(cfg Config) *Ingestor {
	cfg.ApplyDefaults()
	return &Ingestor{
		cfg: cfg,
		parsers: map[string]parseFunc{
			".md":   parseMarkdown,
			".txt":  parseText,
			".html": parseHTML,
			".pdf":  parsePDF,
			".docx": parseDOCX,
		},
	}
}

// Supported reports whether a parser strategy exists for the file's
// extension.
func (i *Ingestor) Supported(path string) bool {
	_, ok := i.parsers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Ingest parses a file into an ordered, finite chunk sequence. Calling it
// twice re-parses; IDs are deterministic for unchanged content. Parse
// failures return a nil slice and an ErrParse-wrapped error.
func (i *Ingestor) Ingest(path string) ([]Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := i.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}

	splitter := textSplitter{maxChars: i.cfg.MaxChunkChars, overlap: i.cfg.ChunkOverlap}
	sections, err := parse(path, splitter)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	chunks := make([]Chunk, 0, len(sections))
	for _, sec := range sections {
		text := strings.TrimSpace(sec.text)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:          fmt.Sprintf("%s_%d", stem, len(chunks)),
			Text:        text,
			Source:      path,
			ElementType: sec.elementType,
			Metadata:    sanitizeMetadata(sec.metadata),
		})
	}
	return chunks, nil
}

// sanitizeMetadata restricts metadata values to primitive scalars. Values
// that are not string/number/bool/nil are stringified so the vector store's
// schema constraints always hold.
func sanitizeMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = v
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
