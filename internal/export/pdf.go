package export

import (
	"io"
	"time"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
)

// PDF layout, in points on a US Letter page.
const (
	pdfMargin    = 72.0
	pdfLeading   = 14.0
	pdfFontSize  = 10.0
	pdfChunkSize = 100 // characters per drawn line
)

// pdfEpoch fixes the document dates so identical text renders identically.
var pdfEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// WritePDF draws text on Letter pages with 72pt margins and 14pt leading.
// Lines longer than 100 characters are cut into 100-character chunks; a new
// page starts when the next chunk would fall below the bottom margin.
// Empty lines draw nothing.
func WritePDF(w io.Writer, text string) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(pdfEpoch)
	pdf.SetModificationDate(pdfEpoch)
	pdf.SetCreator("resume-tailor", false)
	pdf.SetFont("Helvetica", "", pdfFontSize)
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	_, pageHeight := pdf.GetPageSize()
	pdf.AddPage()
	y := pdfMargin

	for _, line := range splitLines(text) {
		for _, chunk := range chunkRunes(line, pdfChunkSize) {
			if y > pageHeight-pdfMargin {
				pdf.AddPage()
				y = pdfMargin
			}
			pdf.Text(pdfMargin, y, translate(chunk))
			y += pdfLeading
		}
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}

// chunkRunes splits s into pieces of at most n runes. An empty s has no chunks.
func chunkRunes(s string, n int) []string {
	if s == "" {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(s)/n+1)
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
