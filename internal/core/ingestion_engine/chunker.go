package ingestion_engine

import (
	"strings"

	"github.com/kaushikharsh99/Dropvault/internal/models"
)

const (
	defaultChunkWords   = 300
	defaultContentChars = 8000
)

// WordChunker splits text into consecutive runs of at most Size words.
// Empty input yields no chunks, never an empty one.
type WordChunker struct {
	Size int
}

func NewWordChunker(size int) *WordChunker {
	if size <= 0 {
		size = defaultChunkWords
	}
	return &WordChunker{Size: size}
}

func (c *WordChunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	out := make([]string, 0, (len(words)+c.Size-1)/c.Size)
	for start := 0; start < len(words); start += c.Size {
		end := min(start+c.Size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

// BuildChunks turns the task's accumulated fields into typed chunks, without
// embeddings. Positions are numbered per chunk type.
func (c *WordChunker) BuildChunks(t Task) []models.Chunk {
	var out []models.Chunk
	add := func(typ models.ChunkType, text string) {
		for i, part := range c.Split(text) {
			out = append(out, models.Chunk{ItemID: t.ItemID, Type: typ, Position: i, Text: part})
		}
	}

	add(models.ChunkTypeOCR, t.OCRText)
	add(models.ChunkTypeCaption, t.VisionCaption)
	if len(t.VisionTags) > 0 {
		add(models.ChunkTypeVisual, "Objects detected: "+strings.Join(t.VisionTags, ", "))
	}
	add(models.ChunkTypeTranscript, t.Transcript)
	return out
}

// AggregateContent is the item-level text written back to the item.
func AggregateContent(t Task) string {
	var parts []string
	if t.OCRText != "" {
		parts = append(parts, t.OCRText)
	}
	if t.VisionCaption != "" {
		parts = append(parts, "AI Description: "+t.VisionCaption)
	}
	if len(t.VisionTags) > 0 {
		parts = append(parts, "Objects: "+strings.Join(t.VisionTags, ", "))
	}
	if t.Transcript != "" {
		parts = append(parts, "Transcript:\n"+t.Transcript)
	}
	return strings.Join(parts, "\n\n")
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ShouldReplaceTitle reports whether the current title looks auto-generated
// (empty, the raw locator, a URL, or a stub) and may be replaced by an
// extracted one.
func ShouldReplaceTitle(current, locator string) bool {
	current = strings.TrimSpace(current)
	switch {
	case current == "":
		return true
	case current == locator:
		return true
	case strings.HasPrefix(current, "http"):
		return true
	case len([]rune(current)) < 5:
		return true
	}
	return false
}
