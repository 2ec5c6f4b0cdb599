package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	inlineSpacePattern = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// bulletMarkers are rewritten to "- " so PDF and DOCX bullets look like
// plain-text ones.
var bulletMarkers = []string{"• ", "· ", "▪ ", "◦ ", "‣ ", "– "}

// CleanText normalizes extracted text while keeping its line structure:
// NFKC folding, LF line endings, collapsed inline whitespace, uniform
// bullets, and at most one blank line between blocks.
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = norm.NFKC.String(content)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}

	result := blankRunPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(result)
}

func cleanLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ""
	}
	// Markdown headings lose their indentation.
	if strings.HasPrefix(trimmed, "#") {
		return inlineSpacePattern.ReplaceAllString(trimmed, " ")
	}

	indent := len(line) - len(strings.TrimLeft(line, " \t"))
	for _, marker := range bulletMarkers {
		if strings.HasPrefix(trimmed, marker) {
			trimmed = "- " + strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
			break
		}
	}
	content := inlineSpacePattern.ReplaceAllString(trimmed, " ")
	if indent > 0 {
		return strings.Repeat(" ", indent) + content
	}
	return content
}

// isBulletLine reports whether a cleaned line is a list item.
func isBulletLine(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")
}

// DecodeText interprets data as UTF-8, dropping a byte-order mark and any
// invalid byte sequences.
func DecodeText(data []byte) string {
	data = []byte(strings.TrimPrefix(string(data), "\ufeff"))
	if utf8.Valid(data) {
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		data = data[size:]
	}
	return sb.String()
}

// BulletCount returns the number of list items in cleaned text.
func BulletCount(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if isBulletLine(line) {
			n++
		}
	}
	return n
}
