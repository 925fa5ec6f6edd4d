package main

import (
	"fmt"
	"io"

	"docqa/internal/helper"
	"docqa/internal/models"
)

// sourcePreviewLen caps how much of each source chunk is printed.
const sourcePreviewLen = 500

func printAnswer(w io.Writer, question string, answer *models.Answer) {
	if question != "" {
		fmt.Fprintf(w, "Question:\n%s\n\n", question)
	}
	fmt.Fprintf(w, "Answer:\n%s\n\n", answer.Content)
	if len(answer.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, src := range answer.Sources {
		fmt.Fprintf(w, "[%d] %s\n%s\n\n", i+1, formatPages(src), helper.Truncate(src.Content, sourcePreviewLen))
	}
}

func formatPages(c models.Chunk) string {
	switch {
	case c.StartPage == 0:
		return "page unknown"
	case c.StartPage == c.EndPage:
		return fmt.Sprintf("page %d", c.StartPage)
	default:
		return fmt.Sprintf("pages %d-%d", c.StartPage, c.EndPage)
	}
}
