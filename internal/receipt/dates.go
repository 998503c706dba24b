package receipt

import (
	"regexp"
	"strings"
)

var (
	dayFirstDate  = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)
	yearFirstDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ToStorageDate converts DD-MM-YYYY into YYYY-MM-DD by swapping the day and
// year segments. Anything else is returned unchanged.
func ToStorageDate(s string) string {
	if !dayFirstDate.MatchString(s) {
		return s
	}
	return swapDateEnds(s)
}

// ToDisplayDate is the inverse of ToStorageDate.
func ToDisplayDate(s string) string {
	if !yearFirstDate.MatchString(s) {
		return s
	}
	return swapDateEnds(s)
}

func swapDateEnds(s string) string {
	parts := strings.Split(s, "-")
	return parts[2] + "-" + parts[1] + "-" + parts[0]
}
