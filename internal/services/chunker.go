package services

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// chunkSeparators are tried in order; the empty separator splits between
// runes so no chunk exceeds the size.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkText splits text into chunks of at most size runes that overlap by
// about overlap runes, preferring paragraph, line, sentence and word
// boundaries. Blank input yields no chunks.
func ChunkText(text string, size, overlap int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if size <= 0 {
		return []string{text}, nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(chunkSeparators),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	chunks := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks, nil
}
