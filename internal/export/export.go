// Package export renders resume text as downloadable DOCX or PDF files.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jonathan/resume-tailor/internal/keywords"
)

// Format is an export file format.
type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
)

// Content types served for each format.
const (
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePDF  = "application/pdf"
)

// UnsupportedFormatError is returned for any format other than docx or pdf.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("fmt must be 'docx' or 'pdf', got %q", e.Format)
}

// ParseFormat accepts "docx" and "pdf" case-insensitively. Empty means docx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatDOCX):
		return FormatDOCX, nil
	case string(FormatPDF):
		return FormatPDF, nil
	default:
		return "", &UnsupportedFormatError{Format: s}
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return ContentTypePDF
	}
	return ContentTypeDOCX
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Filename returns resume_<slug>.<format>, with the slug defaulting to draft.
func Filename(label string, format Format) string {
	return keywords.ExportBase(label) + "." + string(format)
}

// Render renders text in format with a file name derived from label.
func Render(text, label string, format Format) (*File, error) {
	var (
		buf bytes.Buffer
		err error
	)
	switch format {
	case FormatDOCX:
		err = WriteDOCX(&buf, text)
	case FormatPDF:
		err = WritePDF(&buf, text)
	default:
		return nil, &UnsupportedFormatError{Format: string(format)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", format, err)
	}
	return &File{
		Name:        Filename(label, format),
		ContentType: format.ContentType(),
		Data:        buf.Bytes(),
	}, nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
