package extract

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/GriffinCanCode/cardscan/internal/card"
)

// nameScanLines bounds how far down the card the name search looks.
const nameScanLines = 5

// RuleExtractor extracts fields with fixed patterns and keyword lists.
// It never calls out and never fails.
type RuleExtractor struct {
	now func() time.Time
}

// NewRuleExtractor creates a rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{now: time.Now}
}

// Extract implements Extractor. The pre-filter has already judged the text,
// so rules always report a business card.
func (r *RuleExtractor) Extract(_ context.Context, ocr card.OcrResult) (Extraction, error) {
	c := Parse(ocr)
	stamp(&c, ocr, r.now)
	return Extraction{Card: c, IsBusinessCard: true, Source: SourceRules}, nil
}

// Parse applies the extraction rules to OCR output.
func Parse(ocr card.OcrResult) card.Card {
	text := card.Fold(ocr.FullText)
	lines := foldLines(ocr)

	return card.Card{
		Name:       extractName(lines),
		Company:    extractCompany(lines),
		Department: extractDepartment(lines),
		Position:   extractPosition(lines),
		Phone:      extractPhone(lines),
		Fax:        extractFax(lines),
		Email:      card.EmailPattern.FindString(text),
		Address:    extractAddress(lines),
		PostalCode: card.FindPostalCode(text),
		URL:        extractURL(lines),
		SNS:        extractSNS(text),
	}
}

func foldLines(ocr card.OcrResult) []string {
	src := ocr.Lines
	if len(src) == 0 {
		src = card.SplitLines(ocr.FullText)
	}
	lines := make([]string, 0, len(src))
	for _, l := range src {
		if t := strings.TrimSpace(card.Fold(l)); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

// extractPhone prefers a mobile number anywhere on the card, then a
// TEL-labelled number, then any fixed-line pattern outside FAX lines.
func extractPhone(lines []string) string {
	for _, l := range lines {
		if card.FaxLabelPattern.MatchString(l) {
			continue
		}
		if m := card.MobilePattern.FindString(l); m != "" {
			return m
		}
	}
	for _, l := range lines {
		if loc := card.PhoneLabelPattern.FindStringIndex(l); loc != nil {
			if n := labelledNumber(l[loc[1]:]); n != "" {
				return n
			}
		}
	}
	for _, l := range lines {
		if card.FaxLabelPattern.MatchString(l) {
			continue
		}
		if m := card.PhonePattern.FindString(l); m != "" {
			return m
		}
	}
	return ""
}

func extractFax(lines []string) string {
	for _, l := range lines {
		if loc := card.FaxLabelPattern.FindStringIndex(l); loc != nil {
			if n := labelledNumber(l[loc[1]:]); n != "" {
				return n
			}
		}
	}
	return ""
}

// labelledNumber returns the first digit run after a label that is long
// enough to be a phone number.
func labelledNumber(rest string) string {
	for _, m := range card.LabelledNumberPattern.FindAllString(rest, -1) {
		m = strings.TrimSpace(m)
		if countDigits(m) >= 6 {
			return m
		}
	}
	return ""
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func extractCompany(lines []string) string {
	for _, l := range lines {
		if card.ContainsAny(l, card.CompanyKeywords) {
			return l
		}
	}
	if len(lines) > 1 {
		return lines[1]
	}
	return ""
}

func extractPosition(lines []string) string {
	for _, l := range lines {
		if card.ContainsAny(l, card.PositionKeywords) {
			return l
		}
	}
	return ""
}

// extractDepartment skips title, company and address lines, which often
// contain the same single-character unit keywords.
func extractDepartment(lines []string) string {
	for _, l := range lines {
		if card.ContainsAny(l, card.PositionKeywords) ||
			card.ContainsAny(l, card.CompanyKeywords) ||
			card.FindPrefecture(l) >= 0 {
			continue
		}
		if card.ContainsAny(l, card.DepartmentKeywords) {
			return l
		}
	}
	return ""
}

// extractAddress returns the first prefecture-bearing line from the
// prefecture onward, dropping any postal code printed before it.
func extractAddress(lines []string) string {
	for _, l := range lines {
		if i := card.FindPrefecture(l); i >= 0 {
			return strings.TrimSpace(l[i:])
		}
	}
	return ""
}

// extractURL ignores bare domains on e-mail lines and social profile links.
func extractURL(lines []string) string {
	for _, l := range lines {
		pattern := card.URLPattern
		if strings.Contains(l, "@") {
			pattern = card.SchemeURLPattern
		}
		for _, m := range pattern.FindAllString(l, -1) {
			if !card.SocialURLPattern.MatchString(m) {
				return m
			}
		}
	}
	return ""
}

func extractSNS(text string) string {
	if m := card.SocialURLPattern.FindString(text); m != "" {
		return m
	}
	if m := card.HandlePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// extractName looks in the first lines for an ideographic personal name,
// then for the first line that cannot be anything else.
func extractName(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	head := lines[:min(len(lines), nameScanLines)]
	for _, l := range head {
		if !skipForName(l) && card.NamePattern.MatchString(l) {
			return l
		}
	}
	for _, l := range head {
		if !skipForName(l) {
			return l
		}
	}
	return lines[0]
}

func skipForName(l string) bool {
	switch {
	case card.ContainsAny(l, card.CompanyKeywords),
		card.ContainsAny(l, card.PositionKeywords),
		card.ContainsAny(l, card.CertificationKeywords),
		card.KatakanaOnlyPattern.MatchString(l),
		strings.Contains(l, "@"),
		card.LeadingDigitsPattern.MatchString(l),
		card.PhoneLabelPattern.MatchString(l),
		card.FaxLabelPattern.MatchString(l),
		card.SymbolPattern.MatchString(l),
		card.FindPrefecture(l) >= 0,
		card.SchemeURLPattern.MatchString(l),
		card.AcronymPattern.MatchString(l):
		return true
	}
	return tooShortForName(l)
}

// tooShortForName rejects one-character lines and two-character lines that
// are not both ideographs (a two-character name like 林茂 is legitimate).
func tooShortForName(l string) bool {
	n := utf8.RuneCountInString(l)
	if n < 2 {
		return true
	}
	if n > 2 {
		return false
	}
	for _, r := range l {
		if !unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
