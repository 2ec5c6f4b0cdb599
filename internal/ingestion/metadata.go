package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Metadata describes where a piece of ingested text came from.
type Metadata struct {
	Source     string `json:"source,omitempty"`   // file name or path
	URL        string `json:"url,omitempty"`      // job posting URL
	Format     string `json:"format,omitempty"`   // pdf, docx, text, html
	Platform   string `json:"platform,omitempty"` // detected job board
	Title      string `json:"title,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339
	Hash       string `json:"hash"`      // SHA256 hex digest of the cleaned text
	Characters int    `json:"characters"`
	Bullets    int    `json:"bullets"`
	Pages      int    `json:"pages,omitempty"`
	Rendered   bool   `json:"rendered,omitempty"`
}

// NewMetadata returns metadata for content stamped with the current time.
func NewMetadata(content string, source string) *Metadata {
	return &Metadata{
		Source:     source,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Hash:       computeHash(content),
		Characters: utf8.RuneCountInString(content),
		Bullets:    BulletCount(content),
	}
}

func computeHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// ToJSON marshals the metadata as indented JSON.
func (m *Metadata) ToJSON() ([]byte, error) {
	jsonBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata to JSON: %w", err)
	}
	return jsonBytes, nil
}
