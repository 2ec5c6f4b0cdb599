// Package prompts provides a loader for externalized LLM prompt templates.
// Prompts are stored as JSON files and embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

// TailoringFile holds the prompts used by the collaborator endpoints.
const TailoringFile = "tailoring.json"

// Keys in TailoringFile.
const (
	KeyTailor   = "tailor-resume"
	KeyKeywords = "extract-keywords"
	KeyCompany  = "infer-company"
)

var (
	cache   = make(map[string]map[string]string)
	cacheMu sync.RWMutex
)

var placeholderPattern = regexp.MustCompile(`\{\{\.[A-Za-z][A-Za-z0-9]*\}\}`)

// Get retrieves a prompt by filename and key.
func Get(filename, key string) (string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return "", err
	}

	prompt, exists := prompts[key]
	if !exists {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}

	return prompt, nil
}

// MustGet retrieves a prompt by filename and key, panicking if not found.
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Format replaces placeholders of the form {{.Key}} with values from data.
// Values are inserted literally, so braces in user text are never reinterpreted.
func Format(template string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(ph string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(ph, "{{."), "}}")
		if value, ok := data[key]; ok {
			return value
		}
		return ph
	})
}

// Render loads a prompt and fills it, failing when a placeholder has no value.
func Render(filename, key string, data map[string]string) (string, error) {
	template, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	for _, ph := range placeholderPattern.FindAllString(template, -1) {
		name := strings.TrimSuffix(strings.TrimPrefix(ph, "{{."), "}}")
		if _, ok := data[name]; !ok {
			return "", fmt.Errorf("prompt %s/%s: missing value for %s", filename, key, name)
		}
	}
	return Format(template, data), nil
}

// Tailor renders the resume rewriting prompt.
func Tailor(resume, jobDescription string) (string, error) {
	return Render(TailoringFile, KeyTailor, map[string]string{"Resume": resume, "JobDescription": jobDescription})
}

// Keywords renders the keyword extraction prompt.
func Keywords(jobDescription string) (string, error) {
	return Render(TailoringFile, KeyKeywords, map[string]string{"JobDescription": jobDescription})
}

// Company renders the company inference prompt.
func Company(jobDescription string) (string, error) {
	return Render(TailoringFile, KeyCompany, map[string]string{"JobDescription": jobDescription})
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	if prompts, exists := cache[filename]; exists {
		cacheMu.RUnlock()
		return prompts, nil
	}
	cacheMu.RUnlock()

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}

	var prompts map[string]string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()

	return prompts, nil
}

// ClearCache clears the prompt cache. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	cacheMu.Unlock()
}

// List returns the prompt keys in a file, sorted.
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
