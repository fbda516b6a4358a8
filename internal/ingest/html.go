package ingest

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// parseHTML extracts visible text from an HTML document, skipping script and
// style subtrees, and size-splits the result. The document title is carried
// as chunk metadata when present.
func parseHTML(path string, splitter textSplitter) ([]section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing html %s: %v", ErrParse, path, err)
	}

	var text strings.Builder
	var title string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				text.WriteString("\n")
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				text.WriteString(t)
				text.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var sections []section
	for _, piece := range splitter.split(text.String()) {
		meta := map[string]any{}
		if title != "" {
			meta["title"] = title
		}
		sections = append(sections, section{
			text:        piece,
			elementType: "NarrativeText",
			metadata:    meta,
		})
	}
	return sections, nil
}
