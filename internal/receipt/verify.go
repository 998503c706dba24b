package receipt

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FieldStatus is the per-field traceability verdict shown next to form inputs.
type FieldStatus string

const (
	StatusEmpty    FieldStatus = "empty"
	StatusVerified FieldStatus = "verified"
	StatusMismatch FieldStatus = "mismatch"
)

// StatusMap maps field names to their verification status.
type StatusMap map[string]FieldStatus

// Count returns how many fields carry status s.
func (m StatusMap) Count(s FieldStatus) int {
	n := 0
	for _, v := range m {
		if v == s {
			n++
		}
	}
	return n
}

var punctuationStripper = strings.NewReplacer(".", "", ",", "", "-", "", "/", "", ":", "")

// Normalize folds s for containment checks: compatibility-normalized,
// lower-cased, with whitespace and . , - / : removed.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = strings.Join(strings.Fields(s), "")
	return punctuationStripper.Replace(s)
}

// Verify checks every field of r against rawText. Substring containment after
// normalization is intentionally lenient; a mismatch asks for human review.
func Verify(rawText string, r Record) StatusMap {
	normalizedRaw := Normalize(rawText)
	out := make(StatusMap, len(FieldNames))
	for _, name := range FieldNames {
		out[name] = verifyField(normalizedRaw, name, r.Get(name))
	}
	return out
}

// VerifyValue checks a single named value against rawText.
func VerifyValue(rawText, name, value string) FieldStatus {
	return verifyField(Normalize(rawText), name, value)
}

func verifyField(normalizedRaw, name, value string) FieldStatus {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "null" {
		return StatusEmpty
	}

	if strings.Contains(strings.ToLower(name), "date") {
		parts := strings.Split(trimmed, "-")
		if len(parts) == 3 {
			asGiven := Normalize(trimmed)
			reordered := Normalize(parts[2] + "-" + parts[1] + "-" + parts[0])
			if strings.Contains(normalizedRaw, asGiven) || strings.Contains(normalizedRaw, reordered) {
				return StatusVerified
			}
			return StatusMismatch
		}
	}

	normalized := Normalize(trimmed)
	if normalized == "" {
		return StatusVerified
	}
	if strings.Contains(normalizedRaw, normalized) {
		return StatusVerified
	}
	return StatusMismatch
}
