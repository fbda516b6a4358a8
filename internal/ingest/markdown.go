package ingest

import (
	"fmt"
	"os"
	"strings"
)

// parseMarkdown chunks a Markdown file by heading. Each heading starts a new
// section carrying the heading text and level as metadata; section bodies
// larger than the chunk budget are size-split with overlap.
func parseMarkdown(path string, splitter textSplitter) ([]section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	type mdSection struct {
		heading string
		level   int
		body    strings.Builder
	}

	var raw []*mdSection
	current := &mdSection{}
	raw = append(raw, current)

	inFence := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence {
			if level, heading, ok := parseHeading(trimmed); ok {
				current = &mdSection{heading: heading, level: level}
				raw = append(raw, current)
				continue
			}
		}
		current.body.WriteString(line)
		current.body.WriteString("\n")
	}

	var sections []section
	for _, sec := range raw {
		text := sec.body.String()
		if sec.heading != "" {
			text = sec.heading + "\n\n" + text
		}
		for _, piece := range splitter.split(text) {
			meta := map[string]any{}
			elementType := "NarrativeText"
			if sec.heading != "" {
				meta["heading"] = sec.heading
				meta["heading_level"] = sec.level
				elementType = "Section"
			}
			sections = append(sections, section{
				text:        piece,
				elementType: elementType,
				metadata:    meta,
			})
		}
	}
	return sections, nil
}

// parseHeading recognizes ATX headings (1-6 leading #).
func parseHeading(line string) (level int, heading string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level == len(line) || line[level] != ' ' {
		return 0, "", false
	}
	heading = strings.TrimSpace(line[level:])
	if heading == "" {
		return 0, "", false
	}
	return level, heading, true
}
