package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"docqa/internal/models"
)

func load(t *testing.T, name string, data []byte) ([]models.Page, error) {
	t.Helper()
	return NewLoader().Load(context.Background(), models.Document{Name: name, Data: data})
}

func zipFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLoad_Text(t *testing.T) {
	pages, err := load(t, "whales.TXT", []byte("This document is about whales."))
	require.NoError(t, err)
	assert.Equal(t, []models.Page{{Number: 1, Text: "This document is about whales."}}, pages)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
	}{
		{name: "empty", file: "a.pdf", data: nil},
		{name: "unsupported", file: "a.odt", data: []byte("x")},
		{name: "no extension", file: "README", data: []byte("x")},
		{name: "corrupt pdf", file: "a.pdf", data: []byte("%PDF-1.4 this is not really a pdf")},
		{name: "corrupt docx", file: "a.docx", data: []byte("not a zip")},
		{name: "corrupt pptx", file: "a.pptx", data: []byte("not a zip")},
		{name: "corrupt xlsm", file: "a.xlsm", data: []byte("not a zip")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := load(t, tt.file, tt.data)
			assert.ErrorIs(t, err, models.ErrLoad)
			assert.Nil(t, pages)
		})
	}
}

func TestLoad_Markdown(t *testing.T) {
	src := "# Whales\n\nWhales are *mammals*.\n\n- blue whale\n- orca\n\n```\ncode block\n```\n"

	pages, err := load(t, "notes.md", []byte(src))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	text := pages[0].Text
	assert.Contains(t, text, "Whales\n")
	assert.Contains(t, text, "Whales are mammals.")
	assert.Contains(t, text, "blue whale")
	assert.Contains(t, text, "orca")
	assert.Contains(t, text, "code block")
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "*")
}

func TestLoad_DOCX(t *testing.T) {
	doc := `<w:document><w:body>` +
		`<w:p><w:r><w:t>Whales are</w:t></w:r><w:r><w:t xml:space="preserve">mammals &amp; swim.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>They breathe air.</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	data := zipFiles(t, map[string]string{
		"word/document.xml":            doc,
		"word/_rels/document.xml.rels": "<Relationships/>",
	})

	pages, err := load(t, "whales.docx", data)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Whales are mammals & swim.\nThey breathe air.", pages[0].Text)
}

func TestLoad_PPTX(t *testing.T) {
	slide := func(text string) string {
		return fmt.Sprintf(`<p:sld><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sld>`, text)
	}
	data := zipFiles(t, map[string]string{
		"ppt/slides/slide10.xml":           slide("Ten"),
		"ppt/slides/slide2.xml":            slide("Two"),
		"ppt/slides/slide1.xml":            slide("One"),
		"ppt/slides/slide3.xml":            slide(""),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
		"ppt/presentation.xml":             "<p:presentation/>",
	})

	pages, err := load(t, "deck.pptx", data)
	require.NoError(t, err)
	assert.Equal(t, []models.Page{
		{Number: 1, Text: "One"},
		{Number: 2, Text: "Two"},
		{Number: 10, Text: "Ten"},
	}, pages)
}

func TestLoad_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Animals")
	require.NoError(t, err)
	for _, values := range [][]string{{"name", "class"}, {"whale", "mammal"}} {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	pages, err := load(t, "animals.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "## Sheet: Animals")
	assert.Contains(t, pages[0].Text, "whale\tmammal")
}

func TestLoad_Excelize(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Whales"))
	require.NoError(t, f.SetCellValue("Whales", "A1", "species"))
	require.NoError(t, f.SetCellValue("Whales", "B1", "length"))
	require.NoError(t, f.SetCellValue("Whales", "A2", "blue"))
	require.NoError(t, f.SetCellValue("Whales", "B2", 30))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	pages, err := load(t, "whales.xlsm", buf.Bytes())
	require.NoError(t, err)
	// the empty sheet still has a heading so it is kept
	require.Len(t, pages, 2)
	assert.Contains(t, pages[0].Text, "## Sheet: Whales")
	assert.Contains(t, pages[0].Text, "blue\t30")
	assert.Equal(t, 2, pages[1].Number)
}

func TestExtractTextFromXML(t *testing.T) {
	xml := `<a:t>one</a:t><a:tab/><a:t lang="en">two &lt;3&gt;</a:t><a:table>skip</a:table>`
	assert.Equal(t, "one two <3>", extractTextFromXML(xml, "a:t"))
	assert.Equal(t, "", extractTextFromXML("<w:p></w:p>", "w:t"))
}

func TestDropEmptyPages(t *testing.T) {
	pages := dropEmptyPages([]models.Page{{Number: 1, Text: " "}, {Number: 2, Text: "b"}, {Number: 3, Text: "\n"}, {Number: 4, Text: "d"}})
	assert.Equal(t, []models.Page{{Number: 2, Text: "b"}, {Number: 4, Text: "d"}}, pages)
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".md")
	for _, ext := range exts {
		_, err := load(t, "x"+ext, nil)
		assert.ErrorIs(t, err, models.ErrLoad)
	}
}
