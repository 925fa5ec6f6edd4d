package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

// pages are joined with this separator; it counts towards the page it follows
const pageSeparator = "\n"

// Chunker splits page text into fixed-size overlapping windows measured in runes.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

type pageSpan struct {
	number     int
	start, end int
}

// Text is the document text the chunk offsets refer to.
func Text(pages []models.Page) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, pageSeparator)
}

// Split cuts the concatenated text of pages into chunks. Each chunk records
// every page its rune range intersects. No pages, or pages holding only
// whitespace, give an empty slice.
func (c *Chunker) Split(pages []models.Page) []models.Chunk {
	joined := Text(pages)
	if strings.TrimSpace(joined) == "" {
		return []models.Chunk{}
	}
	text := []rune(joined)

	spans := make([]pageSpan, len(pages))
	offset := 0
	for i, p := range pages {
		n := len([]rune(p.Text))
		if i < len(pages)-1 {
			n += len([]rune(pageSeparator))
		}
		spans[i] = pageSpan{number: p.Number, start: offset, end: offset + n}
		offset += n
	}

	step := c.size - c.overlap
	var chunks []models.Chunk
	for start := 0; ; start += step {
		end := min(start+c.size, len(text))
		pagesInRange := pagesFor(spans, start, end)
		chunks = append(chunks, models.Chunk{
			Content:    string(text[start:end]),
			ChunkIndex: len(chunks),
			StartPage:  pagesInRange[0],
			EndPage:    pagesInRange[len(pagesInRange)-1],
			Pages:      pagesInRange,
			Offset:     start,
		})
		if end == len(text) {
			break
		}
	}

	log.Debug().Int("runes", len(text)).Int("chunks", len(chunks)).Int("size", c.size).Int("overlap", c.overlap).Msg("Split document")
	return chunks
}

// pagesFor returns the numbers of the pages intersecting [start, end).
func pagesFor(spans []pageSpan, start, end int) []int {
	first := sort.Search(len(spans), func(i int) bool { return spans[i].end > start })
	var numbers []int
	for i := first; i < len(spans) && spans[i].start < end; i++ {
		if spans[i].end > spans[i].start {
			numbers = append(numbers, spans[i].number)
		}
	}
	if len(numbers) == 0 {
		// only possible for a range made of empty pages
		numbers = append(numbers, spans[min(first, len(spans)-1)].number)
	}
	return numbers
}

// Reassemble rebuilds the document text from consecutive chunks by dropping
// the overlapping prefix of every chunk but the first.
func Reassemble(chunks []models.Chunk, overlap int) string {
	var text strings.Builder
	for i, chunk := range chunks {
		content := []rune(chunk.Content)
		if i > 0 {
			content = content[min(overlap, len(content)):]
		}
		text.WriteString(string(content))
	}
	return text.String()
}
