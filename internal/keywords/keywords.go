// Package keywords compares job-description keywords against resume text and
// builds export file names.
package keywords

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"github.com/jonathan/resume-tailor/internal/llm"
)

// DefaultLabel names exports that have no label.
const DefaultLabel = "draft"

// bulletCutset is trimmed from both ends of lines in the newline fallback.
const bulletCutset = "-•*` \t\r\n"

// ParseKeywords reads the LLM's keyword reply. A JSON array of strings is
// used as-is; any other JSON value yields no keywords; text that is not JSON
// is split into lines with list markers trimmed. Blank and duplicate
// (case-insensitive) keywords are dropped. The result is never nil.
func ParseKeywords(raw string) []string {
	cleaned := llm.CleanJSONBlock(raw)

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err == nil {
		items, ok := decoded.([]any)
		if !ok {
			return []string{}
		}
		words := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				words = append(words, s)
			}
		}
		return dedupe(words)
	}

	return dedupe(strings.Split(raw, "\n"), bulletCutset)
}

func dedupe(words []string, cutset ...string) []string {
	trim := " \t\r\n"
	if len(cutset) > 0 {
		trim = cutset[0]
	}
	out := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, trim)
		key := strings.ToLower(w)
		if w == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

// ContainsPhrase reports whether phrase occurs in text, case-insensitively.
// A single word must stand alone: the characters around the match may not be
// letters, digits or underscores. Multi-word phrases match as substrings.
func ContainsPhrase(text, phrase string) bool {
	t := strings.ToLower(text)
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return false
	}
	if len(strings.Fields(p)) > 1 {
		return strings.Contains(t, p)
	}

	for offset := 0; offset <= len(t); {
		idx := strings.Index(t[offset:], p)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(p)
		if !wordRuneBefore(t, start) && !wordRuneAfter(t, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(t[start:])
		offset = start + size
	}
	return false
}

// Missing returns the keywords that do not occur in resumeText, in order.
func Missing(resumeText string, keywords []string) []string {
	missing := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" && !ContainsPhrase(resumeText, k) {
			missing = append(missing, k)
		}
	}
	return missing
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWordRune(r)
}

func wordRuneAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWordRune(r)
}

var separatorRun = regexp.MustCompile(`[-_]+`)

// Slugify lowercases name, transliterates it to ASCII and joins the
// remaining alphanumeric runs with underscores. It returns def when
// nothing is left.
func Slugify(name, def string) string {
	s := slug.Make(name)
	s = strings.Trim(separatorRun.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return def
	}
	return s
}

// ExportBase is the file name, without extension, for an exported resume.
func ExportBase(label string) string {
	return "resume_" + Slugify(label, DefaultLabel)
}
