package fallback

import (
	"strings"

	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
)

const extractionRules = `Rules:
1. Map each labelled "Field : Value" pair in the text onto the matching output field.
2. Correct minor OCR typos only. Do not rephrase values.
3. Write every date as DD-MM-YYYY.
4. Never infer missing data. Use null for any field the text does not contain.
5. Never move data from one field into another.
6. For classOfInsurance, extract the complete line, not just the class keyword.`

// BuildPrompt returns the extraction prompt for a reconstructed receipt.
func BuildPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("You extract fields from an insurance money receipt.\n")
	sb.WriteString("Return one JSON object with exactly these keys: ")
	sb.WriteString(strings.Join(receipt.FieldNames, ", "))
	sb.WriteString(".\nAll values are strings or null. companyType is one of GLOBAL, FEDERAL, TAKAFUL or null.\n\n")
	sb.WriteString(extractionRules)
	sb.WriteString("\n\nReceipt text:\n")
	sb.WriteString(text)
	return sb.String()
}

// BuildClientNamePrompt returns the prompt that asks for the paying client's
// name. It follows the same rules as field extraction.
func BuildClientNamePrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Find the name of the client who paid this insurance money receipt.\n")
	sb.WriteString(`Return one JSON object: {"clientName": string or null}.` + "\n\n")
	sb.WriteString(extractionRules)
	sb.WriteString(`
7. Strip honorifics such as Mr, Mrs or Dr unless they are part of a business name.
8. If several names appear, prefer the first and most prominent one.
9. Use null when no client name is present.`)
	sb.WriteString("\n\nReceipt text:\n")
	sb.WriteString(text)
	return sb.String()
}
