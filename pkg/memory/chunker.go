package memory

import "strings"

const (
	maxChunkBytes = 1200
	minChunkBytes = 200
)

// chunkMarkdown splits a note into chunks for indexing. Headings open a
// new section, sections are packed together until maxChunkBytes, and an
// oversized section is split at line boundaries. Chunks below
// minChunkBytes are folded into their neighbor so bm25 has enough text
// to rank.
func chunkMarkdown(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= maxChunkBytes {
		return []string{trimmed}
	}

	sections := splitSections(trimmed)

	var chunks []string
	var current strings.Builder
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, section := range sections {
		if current.Len() > 0 && current.Len()+len(section)+1 > maxChunkBytes {
			flush()
		}
		if len(section) > maxChunkBytes {
			flush()
			chunks = append(chunks, splitLong(section)...)
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(section)
	}
	flush()

	// fold a trailing fragment into the previous chunk
	if n := len(chunks); n > 1 && len(chunks[n-1]) < minChunkBytes {
		merged := chunks[n-2] + "\n\n" + chunks[n-1]
		chunks = append(chunks[:n-2], merged)
	}
	return chunks
}

// splitSections cuts markdown at heading lines, keeping each heading
// with the text that follows it.
func splitSections(content string) []string {
	lines := strings.Split(content, "\n")

	var sections []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, "#") && len(current) > 0 {
			sections = append(sections, strings.TrimSpace(strings.Join(current, "\n")))
			current = current[:0]
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.TrimSpace(strings.Join(current, "\n")))
	}

	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return nonEmpty
}

// splitLong breaks a single oversized section at line boundaries. A
// line that alone exceeds the budget becomes its own chunk.
func splitLong(section string) []string {
	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(section, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > maxChunkBytes {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
