package ingest_test

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/ingest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSupported(t *testing.T) {
	ing := ingest.New(ingest.Config{})

	tests := []struct {
		path string
		want bool
	}{
		{"notes.md", true},
		{"notes.txt", true},
		{"page.html", true},
		{"report.pdf", true},
		{"report.docx", true},
		{"REPORT.DOCX", true},
		{"image.png", false},
		{"archive.zip", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ing.Supported(tt.path))
		})
	}
}

func TestIngest_UnsupportedExtension(t *testing.T) {
	ing := ingest.New(ingest.Config{})
	_, err := ing.Ingest("image.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrUnsupported)
}

func TestIngest_Text(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "first paragraph\n\nsecond paragraph")

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "notes_0", chunks[0].ID)
	assert.Equal(t, path, chunks[0].Source)
	assert.Equal(t, "NarrativeText", chunks[0].ElementType)
	assert.Contains(t, chunks[0].Text, "first paragraph")
}

func TestIngest_EmptyFileProducesNoChunks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "   \n\n\t  ")

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestIngest_DeterministicIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stable.md", "# One\n\nbody one\n\n# Two\n\nbody two")

	ing := ingest.New(ingest.Config{})
	first, err := ing.Ingest(path)
	require.NoError(t, err)
	second, err := ing.Ingest(path)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, fmt.Sprintf("stable_%d", i), first[i].ID)
	}
}

func TestIngest_MarkdownHeadings(t *testing.T) {
	dir := t.TempDir()
	content := "preamble text\n\n# Install\n\nrun the installer\n\n## Linux\n\nuse the tarball"
	path := writeFile(t, dir, "guide.md", content)

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "NarrativeText", chunks[0].ElementType)
	assert.Contains(t, chunks[0].Text, "preamble")

	assert.Equal(t, "Section", chunks[1].ElementType)
	assert.Equal(t, "Install", chunks[1].Metadata["heading"])
	assert.Equal(t, 1, chunks[1].Metadata["heading_level"])

	assert.Equal(t, "Section", chunks[2].ElementType)
	assert.Equal(t, "Linux", chunks[2].Metadata["heading"])
	assert.Equal(t, 2, chunks[2].Metadata["heading_level"])
}

func TestIngest_MarkdownCodeFenceNotAHeading(t *testing.T) {
	dir := t.TempDir()
	content := "# Real\n\nbody\n\n```\n# not a heading\n```\n\ntail"
	path := writeFile(t, dir, "fenced.md", content)

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].Metadata["heading"])
	assert.Contains(t, chunks[0].Text, "# not a heading")
	assert.Contains(t, chunks[0].Text, "tail")
}

func TestIngest_LongTextSplitsWithOverlap(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "word%03d ", i)
	}
	path := writeFile(t, dir, "long.txt", sb.String())

	ing := ingest.New(ingest.Config{MaxChunkChars: 300, ChunkOverlap: 40})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 300, "chunk %d over budget", i)
		assert.Equal(t, fmt.Sprintf("long_%d", i), c.ID)
	}

	// Overlap carries the tail of each chunk into the next.
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		assert.Contains(t, chunks[i].Text, prevWords[len(prevWords)-1])
	}
}

func TestIngest_HTML(t *testing.T) {
	dir := t.TempDir()
	content := `<html><head><title>Runbook</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><p>restart the service</p><p>check the logs</p></body></html>`
	path := writeFile(t, dir, "page.html", content)

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	all := ""
	for _, c := range chunks {
		all += c.Text + " "
		assert.Equal(t, "Runbook", c.Metadata["title"])
	}
	assert.Contains(t, all, "restart the service")
	assert.Contains(t, all, "check the logs")
	assert.NotContains(t, all, "alert(1)")
	assert.NotContains(t, all, "color:red")
}

func TestIngest_DOCX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.docx")
	writeDOCX(t, path, []string{"first paragraph", "second paragraph"})

	ing := ingest.New(ingest.Config{})
	chunks, err := ing.Ingest(path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Paragraph", chunks[0].ElementType)
	assert.Equal(t, "first paragraph", chunks[0].Text)
	assert.Equal(t, "second paragraph", chunks[1].Text)
}

func TestIngest_DOCX_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.docx", "this is not a zip archive")

	ing := ingest.New(ingest.Config{})
	_, err := ing.Ingest(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrParse)
}

func TestIngest_PDF_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.pdf", "%PDF-1.4 garbage")

	ing := ingest.New(ingest.Config{})
	_, err := ing.Ingest(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrParse)
}

// writeDOCX builds a minimal OOXML document with one w:p per paragraph.
func writeDOCX(t *testing.T, path string, paragraphs []string) {
	t.Helper()

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>`)
		body.WriteString(p)
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = entry.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}
