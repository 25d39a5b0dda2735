// Package prefilter scores OCR text for business-card likelihood before any
// expensive extraction runs.
package prefilter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/GriffinCanCode/cardscan/internal/card"
)

// Signal weights.
const (
	PhoneWeight   = 30
	EmailWeight   = 30
	CompanyWeight = 20
	AddressWeight = 10
	MaxScore      = 100
)

// Profile holds the tunable gate for one capture mode.
type Profile struct {
	Name          string
	MinTextLength int
	MinLines      int
	Threshold     int
	NameWeight    int
}

// CameraProfile gates live camera frames, where a false positive costs an
// extraction call on every settled frame.
var CameraProfile = Profile{Name: "camera", MinTextLength: 20, MinLines: 3, Threshold: 40, NameWeight: 25}

// StillProfile gates deliberate still photos, where the user already chose to scan.
var StillProfile = Profile{Name: "still", MinTextLength: 10, MinLines: 1, Threshold: 15, NameWeight: 25}

// ProfileByName returns the named profile, defaulting to CameraProfile.
func ProfileByName(name string) Profile {
	if strings.EqualFold(name, StillProfile.Name) {
		return StillProfile
	}
	return CameraProfile
}

// Filter scores OCR text against a profile.
type Filter struct {
	profile Profile
}

// New creates a filter for the given profile.
func New(p Profile) *Filter {
	return &Filter{profile: p}
}

// Profile returns the profile in use.
func (f *Filter) Profile() Profile { return f.profile }

// Score rates how likely the text came from a business card. It has no side
// effects, so calling it twice on the same input yields the same verdict.
func (f *Filter) Score(fullText string, lines []string) card.PreFilterVerdict {
	text := card.Fold(fullText)
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < f.profile.MinTextLength {
		return card.PreFilterVerdict{Reason: fmt.Sprintf("text too short (%d < %d characters)", n, f.profile.MinTextLength)}
	}

	nonBlank := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(card.Fold(l)); t != "" {
			nonBlank = append(nonBlank, t)
		}
	}
	if len(nonBlank) < f.profile.MinLines {
		return card.PreFilterVerdict{Reason: fmt.Sprintf("too few lines (%d < %d)", len(nonBlank), f.profile.MinLines)}
	}

	score := 0
	if hasPhone(text, nonBlank) {
		score += PhoneWeight
	}
	if card.EmailPattern.MatchString(text) {
		score += EmailWeight
	}
	if card.ContainsAny(text, card.CompanyKeywords) {
		score += CompanyWeight
	}
	if card.FindPostalCode(text) != "" || card.FindPrefecture(text) >= 0 {
		score += AddressWeight
	}
	for _, l := range nonBlank {
		if card.NamePattern.MatchString(l) {
			score += f.profile.NameWeight
			break
		}
	}
	score = min(score, MaxScore)

	if score < f.profile.Threshold {
		return card.PreFilterVerdict{Score: score, Reason: fmt.Sprintf("score %d below threshold %d", score, f.profile.Threshold)}
	}
	return card.PreFilterVerdict{IsValid: true, Score: score}
}

func hasPhone(text string, lines []string) bool {
	if card.PhonePattern.MatchString(text) || card.MobilePattern.MatchString(text) {
		return true
	}
	for _, l := range lines {
		if card.PhoneLabelPattern.MatchString(l) {
			return true
		}
	}
	return false
}
