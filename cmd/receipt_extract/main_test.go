package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a3tai/mcp-receipt-reader/internal/pdf/pdftest"
	"github.com/a3tai/mcp-receipt-reader/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReceipt(t *testing.T, lines ...string) string {
	t.Helper()
	page := make(pdftest.Page, 0, len(lines))
	for i, line := range lines {
		page = append(page, pdftest.Text{S: line, X: 40, Y: float64(760 - 20*i)})
	}
	path := filepath.Join(t.TempDir(), "receipt.pdf")
	require.NoError(t, os.WriteFile(path, pdftest.Build(page), 0o600))
	return path
}

func TestRun_PrintsResult(t *testing.T) {
	path := writeReceipt(t,
		"Issuing Office : Dhaka Branch",
		"Receipt No : RNP-2025-000363 Date : 29-01-2026",
		"Class of Insurance : Fire Insurance Policy",
		"Received with thanks from : Acme Traders Ltd, 12 Motijheel C/A, Dhaka",
		"Premium BDT 89,300.00",
		"VAT BDT 13,395.00",
		"the sum of Tk. 1,02,695.00 (One Lakh Two Thousand Six Hundred Ninety Five)",
		"Mode of Payment : Cash",
	)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--pretty", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.True(t, strings.HasPrefix(stdout.String(), "{\n  "), "pretty output is indented")

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "RNP-2025-000363", result.Record.ReceiptNo)
	assert.Equal(t, "102695.00", result.Record.Total)
}

func TestRun_Errors(t *testing.T) {
	notPDF := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("hello"), 0o600))

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{name: "no file", args: nil, wantCode: 2, wantErr: "exactly one PDF file path required"},
		{name: "unknown flag", args: []string{"--nope", "a.pdf"}, wantCode: 2, wantErr: "unknown flag"},
		{name: "not a PDF", args: []string{notPDF}, wantCode: 1, wantErr: "Failed to process PDF"},
		{name: "missing file", args: []string{filepath.Join(t.TempDir(), "absent.pdf")}, wantCode: 1, wantErr: "Failed to process PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stderr.String(), tt.wantErr)
			assert.Empty(t, stdout.String())
		})
	}
}

// clearAIEnv unsets every variable the CLI reads; t.Setenv restores them.
func clearAIEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RECEIPT_AI_PROVIDER", "RECEIPT_AI_MODEL", "RECEIPT_AI_API_KEY", "RECEIPT_AI_BASE_URL",
		"RECEIPT_AI_TIMEOUT", "RECEIPT_ISSUING_OFFICE", "RECEIPT_MAXFILESIZE",
		"OPENAI_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

var sparseLines = []string{"Issuing Office : Dhaka", "Receipt No : RNP-2025-000777"}

func TestRun_FallbackNeedsKey(t *testing.T) {
	clearAIEnv(t)
	path := writeReceipt(t, sparseLines...)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--fallback", "--ai-provider", "openai", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "OPENAI_API_KEY is empty")
}

func TestRun_FallbackProviderFlag(t *testing.T) {
	clearAIEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	path := writeReceipt(t, sparseLines...)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--fallback", "--ai-provider", "GEMINI", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "GEMINI_API_KEY is empty", "the key follows the provider chosen by flag")
}

func TestRun_ReadsDotEnv(t *testing.T) {
	clearAIEnv(t)
	path := writeReceipt(t,
		"Issuing Office : Dhaka Branch",
		"Receipt No : RNP-2025-000363 Date : 29-01-2026",
		"Class of Insurance : Fire Insurance Policy",
		"Received with thanks from : Acme Traders Ltd Premium BDT 89,300.00",
		"VAT BDT 13,395.00",
		"the sum of Tk. 1,02,695.00 (One Lakh Two Thousand Six Hundred Ninety Five)",
		"Mode of Payment : Cash",
	)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("RECEIPT_AI_PROVIDER=gemini\nRECEIPT_AI_API_KEY=from-dotenv\n"), 0o600))
	t.Chdir(dir)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--fallback", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, pipeline.SourcePattern, result.Source)
	assert.Equal(t, "from-dotenv", os.Getenv("RECEIPT_AI_API_KEY"))
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "receipt_extract [OPTIONS] <pdf_file>")
}
