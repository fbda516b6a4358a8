package ingest

import (
	"fmt"
	"os"
)

// parseText is the plain-text strategy and generic fallback: the whole file
// is size-split on paragraph and word boundaries with overlap.
func parseText(path string, splitter textSplitter) ([]section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var sections []section
	for _, piece := range splitter.split(string(data)) {
		sections = append(sections, section{
			text:        piece,
			elementType: "NarrativeText",
			metadata:    map[string]any{},
		})
	}
	return sections, nil
}
