package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"docqa/internal/models"
)

const defaultPageNumber = 1

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Loader turns uploaded document bytes into ordered pages.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// SupportedExtensions lists the file extensions Load understands.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".md", ".markdown", ".txt"}
}

// Load extracts the text of doc page by page. Pages without text are dropped
// but the remaining pages keep their original numbers.
func (l *Loader) Load(ctx context.Context, doc models.Document) ([]models.Page, error) {
	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrLoad, doc.Name)
	}

	var (
		pages []models.Page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(doc.Name))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(ctx, doc.Data)
	case ".docx":
		pages, err = parseDOCX(doc.Data)
	case ".pptx":
		pages, err = parsePPTX(ctx, doc.Data)
	case ".xlsx":
		pages, err = parseXLSX(doc.Data)
	case ".xlsm", ".xltx", ".xltm":
		pages, err = parseExcelize(doc.Data)
	case ".md", ".markdown":
		pages, err = parseMarkdown(doc.Data)
	case ".txt":
		pages = []models.Page{{Number: defaultPageNumber, Text: string(doc.Data)}}
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %q", models.ErrLoad, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrLoad, doc.Name, err)
	}

	pages = dropEmptyPages(pages)
	log.Debug().Str("document", doc.Name).Int("pages", len(pages)).Msg("Loaded document")
	return pages, nil
}

func parsePDF(ctx context.Context, data []byte) (pages []models.Page, err error) {
	// the pdf package panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(data []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "</w:p>") {
		text := strings.TrimSpace(extractTextFromXML(p, "w:t"))
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	// DOCX has no page numbers
	return []models.Page{{Number: defaultPageNumber, Text: strings.Join(paragraphs, "\n")}}, nil
}

func parsePPTX(ctx context.Context, data []byte) ([]models.Page, error) {
	f, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		slide, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, models.Page{Number: slideNum, Text: extractTextFromXML(string(slide), "a:t")})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func parseXLSX(data []byte) ([]models.Page, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseExcelize(data []byte) ([]models.Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// extractTextFromXML concatenates the text of every <tag>...</tag> element.
func extractTextFromXML(xmlContent, tag string) string {
	var text strings.Builder
	open, closing := "<"+tag+">", "</"+tag+">"
	// elements may carry attributes, e.g. <w:t xml:space="preserve">
	openAttr := "<" + tag + " "
	for {
		start := strings.Index(xmlContent, open)
		if i := strings.Index(xmlContent, openAttr); i >= 0 && (start < 0 || i < start) {
			start = i
		}
		if start < 0 {
			break
		}
		rest := xmlContent[start:]
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closing)
		if end < 0 {
			break
		}
		text.WriteString(html.UnescapeString(rest[:end]))
		text.WriteString(" ")
		xmlContent = rest[end+len(closing):]
	}
	return strings.TrimRight(text.String(), " ")
}

func dropEmptyPages(pages []models.Page) []models.Page {
	kept := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			kept = append(kept, p)
		}
	}
	return kept
}
