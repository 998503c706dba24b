package extractor

import (
	"regexp"
	"strings"

	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/shopspring/decimal"
)

// Input is what every rule sees: the whitespace-collapsed document and the
// fields set by earlier rules.
type Input struct {
	Text    string
	Partial receipt.Record
}

// Matcher finds a raw value for one field.
type Matcher func(in Input) (string, bool)

// Rule binds a matcher and an optional post-processing step to a field.
type Rule struct {
	Field       string
	Match       Matcher
	PostProcess func(string) string
}

var (
	receiptNoPattern     = regexp.MustCompile(`RNP-\d{4}-\d+`)
	classPattern         = regexp.MustCompile(`(?i)\b(fire|marine|motor|miscellaneous)`)
	datePattern          = regexp.MustCompile(`\b\d{2}-\d{2}-\d{4}\b`)
	receivedFromPattern  = regexp.MustCompile(`(?i)received with thanks from\s*:?\s*(.*?)\s*(?:mushak|premium)`)
	parenthesizedPattern = regexp.MustCompile(`\(([^()]*)\)`)
	takaAmountPattern    = regexp.MustCompile(`(?i)Tk\.?\s*[\d,]+(?:\.\d+)?\s*\(\s*([A-Za-z][A-Za-z ]*)`)
	paymentPattern       = regexp.MustCompile(`(?i)\bcheque(?:\s*;\s*|\s+)\d+|\bcash\b`)
	bankDatePattern      = regexp.MustCompile(`([A-Za-z][A-Za-z ]*?Bank(?: [A-Za-z]+)*)\s*[,:]?\s*(\d{2}-\d{2}-\d{4})`)
	drawnOnLabel         = regexp.MustCompile(`(?i)^.*\bdrawn\s+on\s*:?\s*`)
	issuedAgainstPattern = regexp.MustCompile(`GIL/[A-Za-z0-9/-]+`)
	premiumPattern       = regexp.MustCompile(`(?i)premium\s*BDT\s*:?\s*([\d,]+(?:\.\d+)?)`)
	vatPattern           = regexp.MustCompile(`(?i)VAT\s*BDT\s*:?\s*([\d,]+(?:\.\d+)?)`)
	totalPattern         = regexp.MustCompile(`(?i)total\s*(?:BDT)?\s*:?\s*([\d,]+(?:\.\d+)?)`)
	binPattern           = regexp.MustCompile(`(?i)\bBIN\s*(?:No\.?)?\s*:?\s*(\d[\d-]*\d)`)
)

// DefaultRules returns the receipt field grammar. Each rule is independent
// except total, which reads premium and vat from earlier rules.
func DefaultRules() []Rule {
	return []Rule{
		{Field: receipt.FieldReceiptNo, Match: matchWhole(receiptNoPattern)},
		{Field: receipt.FieldClassOfInsurance, Match: matchClass},
		{Field: receipt.FieldDate, Match: matchWhole(datePattern), PostProcess: receipt.ToStorageDate},
		{Field: receipt.FieldReceivedFrom, Match: matchGroup(receivedFromPattern, 1)},
		{Field: receipt.FieldSumOf, Match: matchSumOf, PostProcess: appendTaka},
		{Field: receipt.FieldModeOfPayment, Match: matchWhole(paymentPattern)},
		{Field: receipt.FieldDrawnOn, Match: matchBank, PostProcess: stripDrawnOnLabel},
		{Field: receipt.FieldChequeDate, Match: matchGroup(bankDatePattern, 2), PostProcess: receipt.ToStorageDate},
		{Field: receipt.FieldIssuedAgainst, Match: matchWhole(issuedAgainstPattern)},
		{Field: receipt.FieldPremium, Match: matchGroup(premiumPattern, 1), PostProcess: stripThousands},
		{Field: receipt.FieldVAT, Match: matchGroup(vatPattern, 1), PostProcess: stripThousands},
		{Field: receipt.FieldTotal, Match: matchTotal, PostProcess: stripThousands},
		{Field: receipt.FieldBIN, Match: matchGroup(binPattern, 1)},
	}
}

func matchWhole(re *regexp.Regexp) Matcher {
	return func(in Input) (string, bool) {
		m := re.FindString(in.Text)
		return m, m != ""
	}
}

func matchGroup(re *regexp.Regexp, group int) Matcher {
	return func(in Input) (string, bool) {
		m := re.FindStringSubmatch(in.Text)
		if len(m) <= group {
			return "", false
		}
		v := strings.TrimSpace(m[group])
		return v, v != ""
	}
}

// matchClass keeps the class word as printed so it verifies against the text.
func matchClass(in Input) (string, bool) {
	return matchGroup(classPattern, 1)(in)
}

// matchSumOf prefers the amount in words containing "One Lakh", then any
// parenthesized text. The last resort reads the words after a "Tk. <amount> ("
// whose closing parenthesis was lost.
func matchSumOf(in Input) (string, bool) {
	var first string
	for _, m := range parenthesizedPattern.FindAllStringSubmatch(in.Text, -1) {
		v := strings.TrimSpace(m[1])
		if v == "" {
			continue
		}
		if strings.Contains(strings.ToLower(v), "one lakh") {
			return v, true
		}
		if first == "" {
			first = v
		}
	}
	if first != "" {
		return first, true
	}
	return matchGroup(takaAmountPattern, 1)(in)
}

func matchBank(in Input) (string, bool) {
	return matchGroup(bankDatePattern, 1)(in)
}

// matchTotal sums premium and vat when both are numeric, otherwise it reads
// the printed total.
func matchTotal(in Input) (string, bool) {
	premium, errP := decimal.NewFromString(in.Partial.Premium)
	vat, errV := decimal.NewFromString(in.Partial.VAT)
	if errP == nil && errV == nil {
		return premium.Add(vat).StringFixed(2), true
	}
	return matchGroup(totalPattern, 1)(in)
}

func appendTaka(s string) string {
	if strings.HasSuffix(strings.ToLower(s), "taka") {
		return s
	}
	return s + " taka"
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func stripDrawnOnLabel(s string) string {
	return strings.TrimSpace(drawnOnLabel.ReplaceAllString(s, ""))
}
