package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// parseDOCX extracts paragraph text from word/document.xml inside the docx
// zip container. A .docx without that entry is corrupt.
func parseDOCX(path string, splitter textSplitter) ([]section, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening docx %s: %v", ErrParse, path, err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: opening docx body %s: %v", ErrParse, path, err)
			}
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s has no word/document.xml", ErrParse, path)
	}
	defer doc.Close()

	paragraphs, err := docxParagraphs(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding docx body %s: %v", ErrParse, path, err)
	}

	var sections []section
	for _, para := range paragraphs {
		for _, piece := range splitter.split(para) {
			sections = append(sections, section{
				text:        piece,
				elementType: "Paragraph",
				metadata:    map[string]any{},
			})
		}
	}
	return sections, nil
}

// docxParagraphs streams the WordprocessingML body, collecting the text runs
// (w:t) of each paragraph (w:p).
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(current.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		paragraphs = append(paragraphs, p)
	}
	return paragraphs, nil
}
