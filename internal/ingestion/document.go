// Package ingestion turns uploaded resumes and fetched job postings into
// clean plain text, and asks the LLM to structure it.
package ingestion

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/spf13/afero"
)

// Format is the detected document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

// FilePrefix is accepted, and stripped, in front of local paths.
const FilePrefix = "file://"

// Document is the text extracted from one file.
type Document struct {
	Text     string
	Format   Format
	Metadata *Metadata
}

// ParseError reports a file that could not be decoded.
type ParseError struct {
	Name   string
	Format Format
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s file %q: %v", e.Format, e.Name, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// DetectFormat picks the format from the file extension, case-insensitively.
// Anything that is not .pdf or .docx is read as text.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	default:
		return FormatText
	}
}

// ParseDocument extracts and cleans the text of a file held in memory.
func ParseDocument(name string, data []byte) (*Document, error) {
	format := DetectFormat(name)

	var (
		raw   string
		pages int
		err   error
	)
	switch format {
	case FormatPDF:
		raw, pages, err = extractPDFText(bytes.NewReader(data), int64(len(data)))
	case FormatDOCX:
		raw, err = extractDOCXText(bytes.NewReader(data), int64(len(data)))
	default:
		raw = DecodeText(data)
	}
	if err != nil {
		return nil, &ParseError{Name: name, Format: format, Cause: err}
	}

	text := CleanText(raw)
	meta := NewMetadata(text, name)
	meta.Format = string(format)
	meta.Pages = pages
	return &Document{Text: text, Format: format, Metadata: meta}, nil
}

// ParseLocal reads path from fsys and parses it. A leading file:// is
// stripped first.
func ParseLocal(fsys afero.Fs, path string) (*Document, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), FilePrefix)
	if path == "" {
		return nil, errors.New("path is empty")
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseDocument(path, data)
}

func extractPDFText(r io.ReaderAt, size int64) (string, int, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read pdf: %w", err)
	}

	numPages := reader.NumPage()
	chunks := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			chunks = append(chunks, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		chunks = append(chunks, text)
	}
	return strings.Join(chunks, "\n"), numPages, nil
}

func extractDOCXText(r io.ReaderAt, size int64) (string, error) {
	doc, err := docx.ReadDocxFromMemory(r, size)
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer func() { _ = doc.Close() }()

	return documentXMLText(doc.Editable().GetContent())
}

// documentXMLText flattens WordprocessingML to text: one line per <w:p>,
// with <w:tab/> and <w:br/> kept as whitespace.
func documentXMLText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))

	var (
		sb         strings.Builder
		inText     bool
		paragraphs int
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if paragraphs > 0 {
					sb.WriteByte('\n')
				}
				paragraphs++
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
