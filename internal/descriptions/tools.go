package descriptions

import "sort"

// Tool names
const (
	ReceiptExtract      = "receipt_extract"
	ReceiptVerify       = "receipt_verify"
	ReceiptReconstruct  = "receipt_reconstruct"
	ReceiptClientName   = "receipt_client_name"
	ReceiptPreview      = "receipt_preview"
	ReceiptValidateFile = "receipt_validate_file"
	ReceiptListUploads  = "receipt_list_uploads"
	ReceiptSave         = "receipt_save"
	ReceiptGet          = "receipt_get"
	ReceiptServerInfo   = "receipt_server_info"
)

const (
	ReceiptExtractDescription = `Extract the fields of an insurance money receipt PDF and verify each one against the page text.

**When to use:** A receipt PDF was uploaded and its form needs to be pre-filled.

**How it works:** Page 1 text is rebuilt into lines, fixed patterns fill the fields, and when required fields are still empty an AI model is asked to complete them. Every value is then checked against the text and marked verified, mismatch or empty.

**Examples:**
• "Extract receipt.pdf" → record, field statuses and any messages
• "Extract receipt.pdf without AI" → use_fallback=false, pattern results only

**Result fields:** uploadId, record, fieldStatus, source (pattern, fallback or partial), missingFields, messages, rawText.

**Best practices:** Treat "mismatch" as a prompt for manual review. An empty fieldStatus means the AI step failed and the record is partial.`

	ReceiptVerifyDescription = `Check a receipt record against raw receipt text.

**When to use:** After a user edits the form, to recompute which values still appear in the document.

**Examples:**
• text="Money Receipt No : RNP-2025-000363", record_json={"receiptNo":"RNP-2025-000363"} → receiptNo verified

**Best practices:** Pass the rawText returned by receipt_extract so the comparison uses the same reconstructed lines.`

	ReceiptReconstructDescription = `Rebuild the reading-order lines of a receipt's first page.

**When to use:** Debugging extraction, or feeding the cleaned receipt text to another tool.

**Output:** Lines from the "Issuing Office" marker onwards, with the BIN line moved to the top.`

	ReceiptClientNameDescription = `Find the paying client's name in receipt text.

**How it works:** A name after M/S or an honorific is used first, then the AI model, then the first line of the text.`

	ReceiptPreviewDescription = `Render page 1 of a receipt as a PNG image at twice its scanned resolution.

**When to use:** Showing the original next to the extracted form for visual checking.

**Limitations:** Only scanned receipts carry a page image; text-only PDFs have no preview.`

	ReceiptValidateFileDescription = `Verify that an uploaded file is a readable PDF inside the upload directory.

**Best practices:** Run before receipt_extract when handling unknown uploads.`

	ReceiptListUploadsDescription = `List receipt PDFs in the upload directory, newest first.

**Parameters:** limit (optional, default 20).`

	ReceiptSaveDescription = `Save a confirmed receipt record and return its short code.

**When to use:** After the user has reviewed the extracted form.

**Availability:** Only when a database is configured.`

	ReceiptGetDescription = `Load a saved receipt by its short code.

**Availability:** Only when a database is configured.`

	ReceiptServerInfoDescription = `Show server configuration, available tools and recent uploads.

**When to use:** First call in a session, to learn the upload directory and whether AI fallback and storage are enabled.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	ReceiptExtract:      ReceiptExtractDescription,
	ReceiptVerify:       ReceiptVerifyDescription,
	ReceiptReconstruct:  ReceiptReconstructDescription,
	ReceiptClientName:   ReceiptClientNameDescription,
	ReceiptPreview:      ReceiptPreviewDescription,
	ReceiptValidateFile: ReceiptValidateFileDescription,
	ReceiptListUploads:  ReceiptListUploadsDescription,
	ReceiptSave:         ReceiptSaveDescription,
	ReceiptGet:          ReceiptGetDescription,
	ReceiptServerInfo:   ReceiptServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns all tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
