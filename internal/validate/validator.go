// Package validate rejects extracted cards that look fabricated or that cannot
// be traced back to the OCR text they came from.
package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/GriffinCanCode/cardscan/internal/card"
)

// DefaultBlacklist holds placeholder values that extractors, especially
// language models, tend to invent. Entries are lower case and width-folded.
var DefaultBlacklist = []string{
	"sample", "example", "dummy", "placeholder", "lorem ipsum",
	"株式会社サンプル", "サンプル", "ダミー", "田中太郎", "山田花子", "○○",
}

// digitFields are compared on their digits only, since OCR and extractors
// disagree on hyphens, brackets and spacing.
var digitFields = map[string]bool{"phone": true, "fax": true, "postalCode": true}

// Validator checks candidate cards. It is safe for concurrent use.
type Validator struct {
	blacklist   []string
	checkFields bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithBlacklist replaces the placeholder list.
func WithBlacklist(entries []string) Option {
	return func(v *Validator) {
		v.blacklist = make([]string, 0, len(entries))
		for _, e := range entries {
			if e = normalize(e); e != "" {
				v.blacklist = append(v.blacklist, e)
			}
		}
	}
}

// WithFieldProvenance toggles tracing of fields other than name and company
// (default on).
func WithFieldProvenance(enabled bool) Option {
	return func(v *Validator) { v.checkFields = enabled }
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{checkFields: true}
	WithBlacklist(DefaultBlacklist)(v)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the checks in order and stops at the first failure:
// blacklist, name provenance, company provenance, then the remaining fields.
// Completeness is left to the caller (card.Card.Complete).
func (v *Validator) Validate(c card.Card, sourceText string) card.ValidationVerdict {
	for _, f := range []card.Field{{Name: "name", Value: c.Name}, {Name: "company", Value: c.Company}} {
		if hit := v.blacklisted(f.Value); hit != "" {
			return reject(f.Name, fmt.Sprintf("%s %q matches placeholder %q", f.Name, f.Value, hit))
		}
	}

	src := normalize(sourceText)

	if !nameTraceable(c.Name, src) {
		return reject("name", fmt.Sprintf("name %q not found in source text", c.Name))
	}
	if core := companyCore(c.Company); utf8.RuneCountInString(core) >= 2 && !strings.Contains(src, core) {
		return reject("company", fmt.Sprintf("company %q not found in source text", c.Company))
	}

	if v.checkFields {
		digits := digitsOnly(sourceText)
		for _, f := range c.ExtractedFields() {
			if f.Name == "name" || f.Name == "company" || strings.TrimSpace(f.Value) == "" {
				continue
			}
			if !fieldTraceable(f, src, digits) {
				return reject(f.Name, fmt.Sprintf("%s %q not found in source text", f.Name, f.Value))
			}
		}
	}

	return card.ValidationVerdict{IsValid: true}
}

func (v *Validator) blacklisted(value string) string {
	n := normalize(value)
	if n == "" {
		return ""
	}
	for _, b := range v.blacklist {
		if strings.Contains(n, b) {
			return b
		}
	}
	return ""
}

func reject(field, reason string) card.ValidationVerdict {
	return card.ValidationVerdict{IsValid: false, Reason: reason, Field: field}
}

// nameTraceable accepts when any whitespace-separated part of at least two
// runes occurs in src. A name made only of single-rune parts is checked whole.
func nameTraceable(name, src string) bool {
	parts := strings.Fields(card.Fold(name))
	if len(parts) == 0 {
		return true
	}
	var candidates []string
	for _, p := range parts {
		if utf8.RuneCountInString(p) >= 2 {
			candidates = append(candidates, normalize(p))
		}
	}
	if len(candidates) == 0 {
		candidates = []string{normalize(name)}
	}
	for _, c := range candidates {
		if strings.Contains(src, c) {
			return true
		}
	}
	return false
}

// companyCore strips legal-entity suffixes so "株式会社テスト" and "テスト株式会社"
// both reduce to "テスト".
func companyCore(company string) string {
	core := normalize(company)
	for trimmed := true; trimmed; {
		trimmed = false
		for _, s := range card.LegalSuffixes {
			if strings.HasPrefix(core, s) {
				core, trimmed = core[len(s):], true
			} else if strings.HasSuffix(core, s) {
				core, trimmed = core[:len(core)-len(s)], true
			}
			core = strings.Trim(core, ",.・")
		}
	}
	return core
}

func fieldTraceable(f card.Field, src, srcDigits string) bool {
	if digitFields[f.Name] {
		d := digitsOnly(f.Value)
		return d == "" || strings.Contains(srcDigits, d)
	}
	value := normalize(f.Value)
	if f.Name == "url" {
		value = strings.TrimPrefix(value, "https://")
		value = strings.TrimPrefix(value, "http://")
		value = strings.TrimRight(value, "/")
	}
	return strings.Contains(src, value)
}

// normalize folds width, lower-cases and removes all whitespace.
func normalize(s string) string {
	s = strings.ToLower(card.Fold(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, card.Fold(s))
}
