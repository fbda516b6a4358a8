package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// parsePDF extracts plain text per page and size-splits oversized pages.
// The page number is carried as chunk metadata.
func parsePDF(path string, splitter textSplitter) (sections []section, err error) {
	// The pdf library panics on some malformed inputs; a corrupt file must
	// surface as ErrParse, not escape the ingestor boundary.
	defer func() {
		if r := recover(); r != nil {
			sections = nil
			err = fmt.Errorf("%w: reading pdf %s: %v", ErrParse, path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf %s: %v", ErrParse, path, err)
	}
	defer f.Close()

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: extracting pdf page %d of %s: %v", ErrParse, pageNum, path, err)
		}
		for _, piece := range splitter.split(text) {
			sections = append(sections, section{
				text:        piece,
				elementType: "Page",
				metadata:    map[string]any{"page_number": pageNum},
			})
		}
	}
	return sections, nil
}
