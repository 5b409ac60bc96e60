// Package docstore parses uploaded documents into markdown chunks and
// indexes them in their own vector collection, separate from the web
// knowledge base, so document questions only ever see document content.
package docstore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"

	"enigbot/internal/models"
)

// parseFile dispatches on the file extension and returns the document as
// markdown chunks. PDFs chunk per page, spreadsheets per sheet, slides per
// slide; plain text is chunked by size alone.
func parseFile(path string, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return parsePDF(path, chunkSize, chunkOverlap)
	case ".docx":
		return parseDOCX(path)
	case ".pptx":
		return parsePPTX(path)
	case ".xlsx":
		return parseSheets(path)
	case ".ods":
		return parseODS(path)
	case ".txt", ".md":
		return parseText(path, chunkSize, chunkOverlap)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parsePDF(path string, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("reading pdf %s: %w", path, err)
	}

	var chunks []models.Chunk
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		text, err := reader.Page(pageNum).GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d of %s: %w", pageNum, path, err)
		}
		markdown, err := toMarkdown(text)
		if err != nil {
			return nil, err
		}
		for i, part := range splitOverlap(markdown, chunkSize, chunkOverlap) {
			chunks = append(chunks, models.Chunk{Content: part, PageNumber: pageNum, ChunkID: i + 1})
		}
	}
	return chunks, nil
}

func parseDOCX(path string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var chunks []models.Chunk
	for _, paragraph := range strings.Split(r.Editable().GetContent(), "\n") {
		markdown, err := toMarkdown(paragraph)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(markdown) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Content: markdown, PageNumber: 1, ChunkID: len(chunks) + 1})
	}
	return chunks, nil
}

func parsePPTX(path string) ([]models.Chunk, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []models.Chunk
	slide := 0
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		slide++
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		markdown, err := toMarkdown(slideText(string(data)))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(markdown) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Content: markdown, PageNumber: slide, ChunkID: 1})
	}
	return chunks, nil
}

func parseSheets(path string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "## %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		markdown, err := toMarkdown(text.String())
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(markdown) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Content: markdown, PageNumber: sheetNum + 1, ChunkID: 1})
	}
	return chunks, nil
}

func parseODS(path string) ([]models.Chunk, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []models.Chunk
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## %s\n", sheetName)
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		markdown, err := toMarkdown(text.String())
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(markdown) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{Content: markdown, PageNumber: sheetNum + 1, ChunkID: 1})
	}
	return chunks, nil
}

func parseText(path string, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	markdown, err := toMarkdown(string(data))
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for i, part := range splitOverlap(markdown, chunkSize, chunkOverlap) {
		chunks = append(chunks, models.Chunk{Content: part, PageNumber: 1, ChunkID: i + 1})
	}
	return chunks, nil
}

var renderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(ghtml.WithHardWraps()),
)

func toMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.Trim(buf.String(), " \t\n\r"), nil
}

// slideText pulls the text runs out of a pptx slide's drawing XML.
func slideText(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for _, part := range parts[1:] {
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			text.WriteString(part[:end] + " ")
		}
	}
	return text.String()
}

// splitOverlap cuts content into chunks of at most maxChars with
// overlapChars of carry-over between consecutive chunks, preferring to
// break at a space, newline or sentence end near the boundary.
func splitOverlap(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= maxChars {
		return []string{content}
	}

	var chunks []string
	for start := 0; start < len(content); start += maxChars - overlapChars {
		end := min(start+maxChars, len(content))
		if end < len(content) {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimSpace(content[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
