// Package patient validates raw mapped fields into Patient entities and
// applies the business rules that decide whether a validated patient is
// converted. A Patient is constructible only through Validator.Validate, so
// every value it carries already satisfies the length and format rules.
package patient

import (
	"fmt"
	"strings"
	"time"
)

// Maximum lengths applied during validation. Over-length values are
// truncated, and identifier fields additionally raise a data-quality note.
const (
	maxInternalNumberLen = 12
	maxCaseNumberLen     = 25
	maxNHSNumberLen      = 10
	maxVerificationLen   = 2
	maxSurnameLen        = 30
	maxForenameLen       = 20
	maxTitleLen          = 8
	maxAddressLineLen    = 50
	maxPostcodeLen       = 10
	maxGPCodeLen         = 8
	maxEthnicCodeLen     = 2
	maxPhoneLen          = 20
	maxGPNameLen         = 50
	maxPracticeLen       = 10
)

// dateLayout is the 8-digit calendar date format used across the feed.
const dateLayout = "20060102"

// Patient is a validated patient record ready for message composition.
type Patient struct {
	InternalPatientNumber string
	AssigningAuthority    string
	HospitalCaseNumber    string
	NHSNumber             string
	NHSVerificationStatus string

	Surname      string
	Forename     string
	DateOfBirth  string // YYYYMMDD, always present
	Sex          string // M, F or U
	PatientTitle string

	Address  [5]string
	Postcode string

	DeathIndicator string // Y or N
	DateOfDeath    string // YYYYMMDD or empty

	RegisteredGPCode   string
	EthnicCode         string
	HomePhone          string
	WorkPhone          string
	MobilePhone        string
	RegisteredGP       string
	RegisteredPractice string
}

// BirthYear returns the four-digit year of birth, or "unknown" if the date
// of birth cannot supply one. Validation guarantees a parseable date of
// birth, so "unknown" is a defensive fallback only.
func (p *Patient) BirthYear() string {
	if len(p.DateOfBirth) >= 4 && allDigits(p.DateOfBirth[:4]) {
		return p.DateOfBirth[:4]
	}
	return "unknown"
}

func (p *Patient) String() string {
	return fmt.Sprintf("Patient(%s %s, DOB: %s, ID: %s)",
		p.Forename, p.Surname, p.DateOfBirth, p.InternalPatientNumber)
}

// clampField trims and truncates a free-text field.
func clampField(value string, maxLen int) string {
	value = strings.TrimSpace(value)
	if value == "NULL" {
		return ""
	}
	if len(value) > maxLen {
		return value[:maxLen]
	}
	return value
}

// parseDate normalizes a raw date value to YYYYMMDD. Accepted inputs are
// YYYYMMDD, YYYY-MM-DD, and either followed by a time component, which is
// discarded. Returns the empty string, without error, for empty or "NULL"
// input; returns an error for anything else that does not parse.
func parseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NULL" {
		return "", nil
	}
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ReplaceAll(raw, "-", "")
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", fmt.Errorf("invalid date %q", raw)
	}
	return raw, nil
}

// mapSex normalizes the coded sex value. 1/M/MALE map to M, 2/F/FEMALE to F,
// everything else to U.
func mapSex(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "1", "M", "MALE":
		return "M"
	case "2", "F", "FEMALE":
		return "F"
	default:
		return "U"
	}
}

// parseDeathIndicator converts the source value to Y or N. Per the feed
// definition, anything truthy other than an explicit N means deceased.
func parseDeathIndicator(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" || v == "N" || v == "NULL" {
		return "N"
	}
	return "Y"
}

// cleanPhone strips formatting characters, keeping digits only. The second
// return reports whether a non-empty input carried no digits at all, which
// the caller surfaces as a quality warning.
func cleanPhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NULL" {
		return "", false
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", true
	}
	if len(digits) > maxPhoneLen {
		digits = digits[:maxPhoneLen]
	}
	return digits, false
}

// formatAddress normalizes up to five address lines: inner whitespace
// collapsed, NULL literals emptied, each line capped at 50 characters.
func formatAddress(lines [5]string) [5]string {
	var out [5]string
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == "NULL" {
			continue
		}
		line = strings.Join(strings.Fields(line), " ")
		if len(line) > maxAddressLineLen {
			line = line[:maxAddressLineLen]
		}
		out[i] = line
	}
	return out
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// age returns full years elapsed from an YYYYMMDD date to now.
func age(yyyymmdd string, now time.Time) int {
	t, err := time.Parse(dateLayout, yyyymmdd)
	if err != nil {
		return -1
	}
	years := now.Year() - t.Year()
	if now.Month() < t.Month() || (now.Month() == t.Month() && now.Day() < t.Day()) {
		years--
	}
	return years
}
