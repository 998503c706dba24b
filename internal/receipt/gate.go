package receipt

import "strings"

// RequiredFields must all be non-empty for a pattern result to be accepted
// without fallback. Client name is resolved elsewhere and does not gate.
var RequiredFields = []string{
	FieldReceiptNo,
	FieldClassOfInsurance,
	FieldDate,
	FieldReceivedFrom,
	FieldSumOf,
	FieldModeOfPayment,
	FieldPremium,
	FieldVAT,
	FieldTotal,
}

// GateResult is the outcome of the completeness check.
type GateResult struct {
	IsValid       bool     `json:"isValid"`
	MissingFields []string `json:"missingFields"`
}

// Validate reports which required fields of r are blank, in record field
// order. It never fails; missing data is its normal signal.
func Validate(r Record) GateResult {
	required := make(map[string]bool, len(RequiredFields))
	for _, name := range RequiredFields {
		required[name] = true
	}

	missing := []string{}
	for _, name := range FieldNames {
		if required[name] && strings.TrimSpace(r.Get(name)) == "" {
			missing = append(missing, name)
		}
	}

	return GateResult{
		IsValid:       len(missing) == 0,
		MissingFields: missing,
	}
}
