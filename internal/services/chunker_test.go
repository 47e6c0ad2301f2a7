package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	t.Run("blank input yields nothing", func(t *testing.T) {
		chunks, err := ChunkText("  \n\t ", 100, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks, err := ChunkText("  hello world ", 100, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello world"}, chunks)
	})

	t.Run("non-positive size disables chunking", func(t *testing.T) {
		chunks, err := ChunkText("a b c", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a b c"}, chunks)
	})

	t.Run("long text is split on word boundaries with overlap", func(t *testing.T) {
		words := make([]string, 200)
		for i := range words {
			words[i] = "word"
		}
		text := strings.Join(words, " ")

		chunks, err := ChunkText(text, 50, 10)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		total := 0
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
			for _, w := range strings.Fields(c) {
				assert.Equal(t, "word", w, "chunk splits a word: %q", c)
			}
			total += utf8.RuneCountInString(c)
		}
		assert.Greater(t, total, utf8.RuneCountInString(text), "overlap should repeat some text")
	})

	t.Run("multibyte runes are never split", func(t *testing.T) {
		text := strings.Repeat("日本語テキスト", 40)
		chunks, err := ChunkText(text, 16, 4)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c))
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 16)
		}
	})
}
