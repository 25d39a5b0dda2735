// Package card defines the records that flow through the scan pipeline.
package card

import (
	"encoding/base64"
	"net/url"
	"strings"
	"time"
)

// OcrResult is the text an OCR provider recognised in one image.
type OcrResult struct {
	FullText   string   `json:"fullText"`
	Lines      []string `json:"lines"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewOcrResult builds a result from full text, deriving lines when none are given.
func NewOcrResult(fullText string, lines []string) OcrResult {
	if lines == nil {
		lines = SplitLines(fullText)
	}
	return OcrResult{FullText: fullText, Lines: lines}
}

// SplitLines splits text on newlines and drops blank lines.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// PreFilterVerdict is the outcome of scoring OCR text.
type PreFilterVerdict struct {
	IsValid bool   `json:"isValid"`
	Score   int    `json:"score"`
	Reason  string `json:"reason,omitempty"`
}

// ValidationVerdict is the outcome of provenance and blacklist checks.
type ValidationVerdict struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Card is a structured contact record extracted from one business card.
type Card struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	NameKana    string    `json:"nameKana,omitempty"`
	Company     string    `json:"company"`
	Department  string    `json:"department,omitempty"`
	Position    string    `json:"position,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Fax         string    `json:"fax,omitempty"`
	Email       string    `json:"email,omitempty"`
	Address     string    `json:"address,omitempty"`
	PostalCode  string    `json:"postalCode,omitempty"`
	URL         string    `json:"url,omitempty"`
	SNS         string    `json:"sns,omitempty"`
	RawText     string    `json:"rawText"`
	RawTextBack string    `json:"rawTextBack,omitempty"`
	ScannedAt   time.Time `json:"scannedAt"`
}

// Complete reports whether the record carries the fields a contact needs.
func (c Card) Complete() bool {
	return strings.TrimSpace(c.Name) != "" && strings.TrimSpace(c.Company) != ""
}

// Fingerprint identifies a card for duplicate suppression.
// Two cards with the same name, company, email and phone share a fingerprint.
// Fields are query-escaped before joining so "|" never occurs inside one.
func (c Card) Fingerprint() string {
	parts := []string{c.Name, c.Company, c.Email, c.Phone}
	for i, p := range parts {
		parts[i] = url.QueryEscape(p)
	}
	return base64.URLEncoding.EncodeToString([]byte(strings.Join(parts, "|")))
}

// Field is a named extracted value, used for provenance checks.
type Field struct {
	Name  string
	Value string
}

// ExtractedFields lists the fields that come from the card text, in display order.
func (c Card) ExtractedFields() []Field {
	return []Field{
		{"name", c.Name},
		{"nameKana", c.NameKana},
		{"company", c.Company},
		{"department", c.Department},
		{"position", c.Position},
		{"phone", c.Phone},
		{"fax", c.Fax},
		{"email", c.Email},
		{"address", c.Address},
		{"postalCode", c.PostalCode},
		{"url", c.URL},
		{"sns", c.SNS},
	}
}
