// Package receipt holds the canonical receipt record shape together with the
// completeness gate and the traceability verifier that run over it.
package receipt

import "strings"

// CompanyType identifies which insurer family issued a receipt.
type CompanyType string

const (
	CompanyGlobal  CompanyType = "GLOBAL"
	CompanyFederal CompanyType = "FEDERAL"
	CompanyTakaful CompanyType = "TAKAFUL"
)

// ParseCompanyType maps free text onto a CompanyType. Unknown values return
// false.
func ParseCompanyType(s string) (CompanyType, bool) {
	switch CompanyType(strings.ToUpper(strings.TrimSpace(s))) {
	case CompanyGlobal:
		return CompanyGlobal, true
	case CompanyFederal:
		return CompanyFederal, true
	case CompanyTakaful:
		return CompanyTakaful, true
	default:
		return "", false
	}
}

// Field names, in record order. They double as the JSON keys.
const (
	FieldIssuingOffice    = "issuingOffice"
	FieldReceiptNo        = "receiptNo"
	FieldClassOfInsurance = "classOfInsurance"
	FieldDate             = "date"
	FieldReceivedFrom     = "receivedFrom"
	FieldSumOf            = "sumOf"
	FieldModeOfPayment    = "modeOfPayment"
	FieldDrawnOn          = "drawnOn"
	FieldIssuedAgainst    = "issuedAgainst"
	FieldChequeDate       = "chequeDate"
	FieldPremium          = "premium"
	FieldVAT              = "vat"
	FieldTotal            = "total"
	FieldBIN              = "bin"
	FieldStamp            = "stamp"
	FieldCompanyType      = "companyType"
)

// FieldNames lists every record field in declaration order.
var FieldNames = []string{
	FieldIssuingOffice,
	FieldReceiptNo,
	FieldClassOfInsurance,
	FieldDate,
	FieldReceivedFrom,
	FieldSumOf,
	FieldModeOfPayment,
	FieldDrawnOn,
	FieldIssuedAgainst,
	FieldChequeDate,
	FieldPremium,
	FieldVAT,
	FieldTotal,
	FieldBIN,
	FieldStamp,
	FieldCompanyType,
}

// Record is the structured form of one money receipt. Unset fields are empty
// strings.
type Record struct {
	IssuingOffice    string      `json:"issuingOffice"`
	ReceiptNo        string      `json:"receiptNo"`
	ClassOfInsurance string      `json:"classOfInsurance"`
	Date             string      `json:"date"`
	ReceivedFrom     string      `json:"receivedFrom"`
	SumOf            string      `json:"sumOf"`
	ModeOfPayment    string      `json:"modeOfPayment"`
	DrawnOn          string      `json:"drawnOn"`
	IssuedAgainst    string      `json:"issuedAgainst"`
	ChequeDate       string      `json:"chequeDate"`
	Premium          string      `json:"premium"`
	VAT              string      `json:"vat"`
	Total            string      `json:"total"`
	BIN              string      `json:"bin"`
	Stamp            string      `json:"stamp"`
	CompanyType      CompanyType `json:"companyType"`
}

// Get returns the value of the named field, or "" for unknown names.
func (r *Record) Get(name string) string {
	if name == FieldCompanyType {
		return string(r.CompanyType)
	}
	if p := r.field(name); p != nil {
		return *p
	}
	return ""
}

// Set assigns the named field and reports whether the name is known.
func (r *Record) Set(name, value string) bool {
	if name == FieldCompanyType {
		r.CompanyType = CompanyType(value)
		return true
	}
	p := r.field(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Values returns the record as a field name to value map.
func (r *Record) Values() map[string]string {
	out := make(map[string]string, len(FieldNames))
	for _, name := range FieldNames {
		out[name] = r.Get(name)
	}
	return out
}

func (r *Record) field(name string) *string {
	switch name {
	case FieldIssuingOffice:
		return &r.IssuingOffice
	case FieldReceiptNo:
		return &r.ReceiptNo
	case FieldClassOfInsurance:
		return &r.ClassOfInsurance
	case FieldDate:
		return &r.Date
	case FieldReceivedFrom:
		return &r.ReceivedFrom
	case FieldSumOf:
		return &r.SumOf
	case FieldModeOfPayment:
		return &r.ModeOfPayment
	case FieldDrawnOn:
		return &r.DrawnOn
	case FieldIssuedAgainst:
		return &r.IssuedAgainst
	case FieldChequeDate:
		return &r.ChequeDate
	case FieldPremium:
		return &r.Premium
	case FieldVAT:
		return &r.VAT
	case FieldTotal:
		return &r.Total
	case FieldBIN:
		return &r.BIN
	case FieldStamp:
		return &r.Stamp
	default:
		return nil
	}
}
