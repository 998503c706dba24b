package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a3tai/mcp-receipt-reader/internal/config"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf/pdftest"
	"github.com/a3tai/mcp-receipt-reader/internal/pipeline"
	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/a3tai/mcp-receipt-reader/internal/store"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receiptLines = []string{
	"Federal Insurance Company Ltd",
	"BIN : 000123456-0101",
	"Issuing Office : Dhaka Branch",
	"Receipt No : RNP-2025-000363 Date : 29-01-2026",
	"Class of Insurance : Fire Insurance Policy",
	"Received with thanks from : Acme Traders Ltd, 12 Motijheel C/A, Dhaka",
	"Premium BDT 89,300.00",
	"VAT BDT 13,395.00",
	"Total BDT 102,695.00",
	"the sum of Tk. 1,02,695.00 (One Lakh Two Thousand Six Hundred Ninety Five)",
	"Mode of Payment : Cheque;457812 Drawn On : Sonali Bank Ltd 05-02-2026",
	"Issued against : GIL/DHK/FIR-0045/01/2026",
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		Mode:        mode,
		Host:        "127.0.0.1",
		Port:        0,
		Version:     "1.0.0",
		ServerName:  "test-server",
		LogLevel:    "info",
		MaxFileSize: 1024 * 1024,
		AIProvider:  config.ProviderNone,
	}
}

func newTestServer(t *testing.T, mode string, st *store.Store) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := pdf.NewService(1024*1024, dir)
	require.NoError(t, err)

	cfg := testConfig(mode)
	cfg.UploadDirectory = dir

	s, err := NewServer(cfg, Deps{
		PDF:      svc,
		Pipeline: pipeline.New(svc, pipeline.Options{IssuingOffice: "Head Office"}, nil),
		Store:    st,
	}, nil)
	require.NoError(t, err)
	return s, dir
}

func writeReceipt(t *testing.T, dir, name string) {
	t.Helper()
	page := make(pdftest.Page, 0, len(receiptLines))
	for i, line := range receiptLines {
		page = append(page, pdftest.Text{S: line, X: 40, Y: float64(760 - 20*i)})
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), pdftest.Build(page), 0o600))
}

func callTool(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

// extractTextFromResult returns the first text content of a tool result.
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func TestNewServer(t *testing.T) {
	dir := t.TempDir()
	svc, err := pdf.NewService(1024, dir)
	require.NoError(t, err)
	p := pipeline.New(svc, pipeline.Options{}, nil)

	tests := []struct {
		name    string
		cfg     *config.Config
		deps    Deps
		wantErr string
	}{
		{name: "stdio", cfg: testConfig(config.ModeStdio), deps: Deps{PDF: svc, Pipeline: p}},
		{name: "server", cfg: testConfig(config.ModeServer), deps: Deps{PDF: svc, Pipeline: p}},
		{name: "nil config", deps: Deps{PDF: svc, Pipeline: p}, wantErr: "config cannot be nil"},
		{name: "nil pdf service", cfg: testConfig(config.ModeStdio), deps: Deps{Pipeline: p}, wantErr: "pdf service cannot be nil"},
		{name: "nil pipeline", cfg: testConfig(config.ModeStdio), deps: Deps{PDF: svc}, wantErr: "pipeline cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(tt.cfg, tt.deps, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.cfg, s.config)
			assert.NotNil(t, s.MCPServer())
			assert.NotNil(t, s.deps.Fallback, "client name lookup works without a model")
		})
	}
}

func TestServer_HandleReceiptExtract(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "receipt.pdf")

	result, err := s.handleReceiptExtract(context.Background(), callTool(map[string]any{
		"path":         "receipt.pdf",
		"use_fallback": false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var got pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &got))
	assert.Equal(t, pipeline.SourcePattern, got.Source)
	assert.Equal(t, "RNP-2025-000363", got.Record.ReceiptNo)
	assert.Equal(t, "Head Office", got.Record.IssuingOffice)
	assert.Equal(t, receipt.StatusVerified, got.FieldStatus[receipt.FieldReceiptNo])
	assert.NotEmpty(t, got.UploadID)
}

func TestServer_HandleReceiptExtract_Errors(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a pdf"), 0o600))

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "missing path", args: map[string]any{}, want: "path"},
		{name: "outside upload directory", args: map[string]any{"path": "../etc/passwd.pdf"}, want: "Failed to process PDF"},
		{name: "not a PDF", args: map[string]any{"path": "broken.pdf"}, want: "Failed to process PDF"},
		{name: "missing file", args: map[string]any{"path": "absent.pdf"}, want: "Failed to process PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleReceiptExtract(context.Background(), callTool(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractTextFromResult(result), tt.want)
		})
	}
}

func TestServer_HandleReceiptVerify(t *testing.T) {
	s, _ := newTestServer(t, config.ModeStdio, nil)

	result, err := s.handleReceiptVerify(context.Background(), callTool(map[string]any{
		"text":        "Receipt No : RNP-2025-000363 Date : 29-01-2026\nVAT BDT 13,395.00",
		"record_json": `{"receiptNo":"RNP-2025-000363","date":"2026-01-29","vat":"99.00"}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var got VerifyResult
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &got))
	assert.Equal(t, receipt.StatusVerified, got.FieldStatus[receipt.FieldReceiptNo])
	assert.Equal(t, receipt.StatusVerified, got.FieldStatus[receipt.FieldDate])
	assert.Equal(t, receipt.StatusMismatch, got.FieldStatus[receipt.FieldVAT])
	assert.Equal(t, 2, got.Verified)
	assert.Equal(t, 1, got.Mismatch)
	assert.Equal(t, len(receipt.FieldNames)-3, got.Empty)

	result, err = s.handleReceiptVerify(context.Background(), callTool(map[string]any{
		"text":        "anything",
		"record_json": "{not json",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "record_json is not a receipt record")
}

func TestServer_HandleReceiptReconstruct(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "receipt.pdf")

	result, err := s.handleReceiptReconstruct(context.Background(), callTool(map[string]any{"path": "receipt.pdf"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractTextFromResult(result)
	lines := strings.Split(text, "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "BIN : 000123456-0101", lines[0])
	assert.Equal(t, "Issuing Office : Dhaka Branch", lines[1])
	assert.NotContains(t, text, "Federal Insurance Company")
}

func TestServer_HandleReceiptClientName(t *testing.T) {
	s, _ := newTestServer(t, config.ModeStdio, nil)

	tests := []struct {
		text string
		want string
	}{
		{text: "Received with thanks from : Mr. Karim Uddin, Dhaka", want: "Karim Uddin"},
		{text: "Received with thanks from M/S Rahman Traders, Khulna", want: "M/S Rahman Traders"},
		{text: "Rahim Textiles\nPremium BDT 1,000.00", want: "Rahim Textiles"},
	}

	for _, tt := range tests {
		result, err := s.handleReceiptClientName(context.Background(), callTool(map[string]any{"text": tt.text}))
		require.NoError(t, err)

		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &got))
		assert.Equal(t, tt.want, got["clientName"], tt.text)
	}
}

func TestServer_HandleReceiptPreview_NoImage(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "receipt.pdf")

	result, err := s.handleReceiptPreview(context.Background(), callTool(map[string]any{"path": "receipt.pdf"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "No preview available for this receipt", extractTextFromResult(result))
}

func TestServer_HandleReceiptValidateFile(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "receipt.pdf")

	result, err := s.handleReceiptValidateFile(context.Background(), callTool(map[string]any{"path": "receipt.pdf"}))
	require.NoError(t, err)
	assert.Equal(t, "✅ Valid receipt PDF: receipt.pdf", extractTextFromResult(result))

	result, err = s.handleReceiptValidateFile(context.Background(), callTool(map[string]any{"path": "missing.pdf"}))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.True(t, strings.HasPrefix(text, "❌ Invalid receipt PDF: missing.pdf"), text)
	assert.Contains(t, text, "does not exist")
}

func TestServer_HandleReceiptListUploads(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "a.pdf")
	writeReceipt(t, dir, "b.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	result, err := s.handleReceiptListUploads(context.Background(), callTool(map[string]any{"limit": 1}))
	require.NoError(t, err)

	var files []pdf.FileInfo
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &files))
	assert.Len(t, files, 1)

	result, err = s.handleReceiptListUploads(context.Background(), callTool(map[string]any{}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &files))
	names := []string{files[0].Name, files[1].Name}
	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, names)
}

func TestServer_HandleReceiptServerInfo(t *testing.T) {
	s, dir := newTestServer(t, config.ModeStdio, nil)
	writeReceipt(t, dir, "receipt.pdf")

	result, err := s.handleReceiptServerInfo(context.Background(), callTool(nil))
	require.NoError(t, err)

	text := extractTextFromResult(result)
	assert.Contains(t, text, "test-server v1.0.0")
	assert.Contains(t, text, dir)
	assert.Contains(t, text, "AI Fallback: disabled")
	assert.Contains(t, text, "Storage: disabled")
	assert.Contains(t, text, "receipt.pdf")
	assert.Contains(t, text, "receipt_extract")
	assert.NotContains(t, text, "receipt_save")
}

func newMockStore(t *testing.T) (*store.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return store.New(mock, nil), mock
}

func TestServer_HandleReceiptSave(t *testing.T) {
	st, mock := newMockStore(t)
	s, _ := newTestServer(t, config.ModeStdio, st)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO receipts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "RNP-2025-000363", "FEDERAL", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	result, err := s.handleReceiptSave(context.Background(), callTool(map[string]any{
		"record_json": `{"receiptNo":"RNP-2025-000363","companyType":"FEDERAL"}`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var saved store.Saved
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &saved))
	assert.Len(t, saved.ShortCode, store.ShortCodeLength)
	assert.Equal(t, "RNP-2025-000363", saved.Record.ReceiptNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServer_HandleReceiptGet(t *testing.T) {
	st, mock := newMockStore(t)
	s, _ := newTestServer(t, config.ModeStdio, st)
	payload, err := json.Marshal(receipt.Record{ReceiptNo: "RNP-2025-000363"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, short_code, record, created_at`).
		WithArgs("QWER5678").
		WillReturnRows(pgxmock.NewRows([]string{"id", "short_code", "record", "created_at"}).
			AddRow(uuid.New(), "QWER5678", payload, time.Now()))
	mock.ExpectQuery(`SELECT id, short_code, record, created_at`).
		WithArgs("NOPE0000").
		WillReturnRows(pgxmock.NewRows([]string{"id", "short_code", "record", "created_at"}))

	result, err := s.handleReceiptGet(context.Background(), callTool(map[string]any{"short_code": "QWER5678"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "RNP-2025-000363")

	result, err = s.handleReceiptGet(context.Background(), callTool(map[string]any{"short_code": "NOPE0000"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "No receipt with short code NOPE0000", extractTextFromResult(result))
	assert.NoError(t, mock.ExpectationsWereMet())
}
