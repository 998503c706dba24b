package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/a3tai/mcp-receipt-reader/internal/config"
	"github.com/a3tai/mcp-receipt-reader/internal/descriptions"
	rerrors "github.com/a3tai/mcp-receipt-reader/internal/errors"
	"github.com/a3tai/mcp-receipt-reader/internal/fallback"
	"github.com/a3tai/mcp-receipt-reader/internal/layout"
	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
	"github.com/a3tai/mcp-receipt-reader/internal/pipeline"
	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
	"github.com/a3tai/mcp-receipt-reader/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	// EndpointPath is where the streamable HTTP transport is mounted.
	EndpointPath = "/mcp"

	defaultListLimit = 20
	shutdownTimeout  = 5 * time.Second
)

// Deps are the services the tools call into. PDF and Pipeline are required;
// Fallback and Store are optional.
type Deps struct {
	PDF      *pdf.Service
	Pipeline *pipeline.Pipeline
	Fallback *fallback.Extractor
	Store    *store.Store
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	deps      Deps
	logger    *zap.Logger
	mcpServer *server.MCPServer

	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.PDF == nil {
		return nil, fmt.Errorf("pdf service cannot be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fallback == nil {
		deps.Fallback = fallback.New(nil, logger)
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		deps:      deps,
		logger:    logger.With(zap.String("component", "mcp")),
		mcpServer: mcpServer,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}

	s.registerTools()

	return s, nil
}

// MCPServer exposes the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptExtract,
		mcp.WithDescription(descriptions.ReceiptExtractDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Receipt PDF path, relative to the upload directory"),
		),
		mcp.WithBoolean("use_fallback",
			mcp.DefaultBool(true),
			mcp.Description("Ask the AI model when required fields are missing"),
		),
	), s.handleReceiptExtract)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptVerify,
		mcp.WithDescription(descriptions.ReceiptVerifyDescription),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw receipt text to search"),
		),
		mcp.WithString("record_json",
			mcp.Required(),
			mcp.Description("Receipt record as a JSON object keyed by field name"),
		),
	), s.handleReceiptVerify)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptReconstruct,
		mcp.WithDescription(descriptions.ReceiptReconstructDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Receipt PDF path, relative to the upload directory"),
		),
	), s.handleReceiptReconstruct)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptClientName,
		mcp.WithDescription(descriptions.ReceiptClientNameDescription),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Receipt text containing the client"),
		),
	), s.handleReceiptClientName)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptPreview,
		mcp.WithDescription(descriptions.ReceiptPreviewDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Receipt PDF path, relative to the upload directory"),
		),
	), s.handleReceiptPreview)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptValidateFile,
		mcp.WithDescription(descriptions.ReceiptValidateFileDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Receipt PDF path, relative to the upload directory"),
		),
	), s.handleReceiptValidateFile)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptListUploads,
		mcp.WithDescription(descriptions.ReceiptListUploadsDescription),
		mcp.WithNumber("limit",
			mcp.DefaultNumber(defaultListLimit),
			mcp.Description("Maximum number of files to return"),
		),
	), s.handleReceiptListUploads)

	if s.deps.Store != nil {
		s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptSave,
			mcp.WithDescription(descriptions.ReceiptSaveDescription),
			mcp.WithString("record_json",
				mcp.Required(),
				mcp.Description("Confirmed receipt record as a JSON object"),
			),
		), s.handleReceiptSave)

		s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptGet,
			mcp.WithDescription(descriptions.ReceiptGetDescription),
			mcp.WithString("short_code",
				mcp.Required(),
				mcp.Description("Short code returned by receipt_save"),
			),
		), s.handleReceiptGet)
	}

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ReceiptServerInfo,
		mcp.WithDescription(descriptions.ReceiptServerInfoDescription),
	), s.handleReceiptServerInfo)
}

// Handler functions
func (s *Server) handleReceiptExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := s.deps.Pipeline
	if !request.GetBool("use_fallback", true) {
		p = p.WithoutFallback()
	}

	result, err := p.ProcessFile(ctx, path)
	if err != nil {
		return s.toolError(descriptions.ReceiptExtract, err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleReceiptVerify(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, errResult := requireRecord(request)
	if errResult != nil {
		return errResult, nil
	}

	statuses := receipt.Verify(text, record)
	return jsonResult(VerifyResult{
		FieldStatus: statuses,
		Verified:    statuses.Count(receipt.StatusVerified),
		Mismatch:    statuses.Count(receipt.StatusMismatch),
		Empty:       statuses.Count(receipt.StatusEmpty),
	})
}

func (s *Server) handleReceiptReconstruct(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, data, err := s.deps.PDF.Load(path)
	if err != nil {
		return s.toolError(descriptions.ReceiptReconstruct, err), nil
	}
	page, err := s.deps.PDF.FirstPage(data)
	if err != nil {
		return s.toolError(descriptions.ReceiptReconstruct, err), nil
	}

	doc := layout.Reconstruct(page.Runs)
	if doc.Empty() {
		return mcp.NewToolResultText("No \"Issuing Office\" marker found on page 1."), nil
	}
	return mcp.NewToolResultText(doc.Text()), nil
}

func (s *Server) handleReceiptClientName(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{
		"clientName": s.deps.Fallback.ClientName(ctx, text),
	})
}

func (s *Server) handleReceiptPreview(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, data, err := s.deps.PDF.Load(path)
	if err != nil {
		return s.toolError(descriptions.ReceiptPreview, err), nil
	}
	preview, err := s.deps.PDF.RenderPreview(data)
	if err != nil {
		s.logger.Debug("mcp: no preview", zap.String("path", path), zap.Error(err))
		return mcp.NewToolResultError("No preview available for this receipt"), nil
	}

	text := fmt.Sprintf("Page 1 preview (%dx%d)", preview.Width, preview.Height)
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(preview.PNG), "image/png"), nil
}

func (s *Server) handleReceiptValidateFile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.deps.PDF.ValidateFile(pdf.ValidateFileRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if result.Valid {
		return mcp.NewToolResultText(fmt.Sprintf("✅ Valid receipt PDF: %s", result.Path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("❌ Invalid receipt PDF: %s\nReason: %s", result.Path, result.Message)), nil
}

func (s *Server) handleReceiptListUploads(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.deps.PDF.ListUploads(request.GetInt("limit", defaultListLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(files)
}

func (s *Server) handleReceiptSave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record, errResult := requireRecord(request)
	if errResult != nil {
		return errResult, nil
	}

	saved, err := s.deps.Store.Save(ctx, record)
	if err != nil {
		return s.toolError(descriptions.ReceiptSave, err), nil
	}
	return jsonResult(saved)
}

func (s *Server) handleReceiptGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("short_code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	saved, err := s.deps.Store.GetByShortCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("No receipt with short code %s", code)), nil
	}
	if err != nil {
		return s.toolError(descriptions.ReceiptGet, err), nil
	}
	return jsonResult(saved)
}

func (s *Server) handleReceiptServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uploads, err := s.deps.PDF.ListUploads(10)
	if err != nil {
		s.logger.Warn("mcp: cannot list uploads", zap.Error(err))
		uploads = []pdf.FileInfo{}
	}

	return mcp.NewToolResultText(s.formatServerInfo(ServerInfo{
		ServerName:      s.config.ServerName,
		Version:         s.config.Version,
		UploadDirectory: s.deps.PDF.UploadDirectory(),
		MaxFileSize:     s.deps.PDF.MaxFileSize(),
		FallbackEnabled: s.deps.Pipeline.FallbackEnabled(),
		AIProvider:      s.config.AIProvider,
		StorageEnabled:  s.deps.Store != nil,
		Cache:           s.deps.Pipeline.CacheStats(),
		RecentUploads:   uploads,
	})), nil
}

// VerifyResult is returned by receipt_verify.
type VerifyResult struct {
	FieldStatus receipt.StatusMap `json:"fieldStatus"`
	Verified    int               `json:"verified"`
	Mismatch    int               `json:"mismatch"`
	Empty       int               `json:"empty"`
}

// ServerInfo is what receipt_server_info reports.
type ServerInfo struct {
	ServerName      string
	Version         string
	UploadDirectory string
	MaxFileSize     int64
	FallbackEnabled bool
	AIProvider      string
	StorageEnabled  bool
	Cache           pipeline.CacheStats
	RecentUploads   []pdf.FileInfo
}

func (s *Server) formatServerInfo(info ServerInfo) string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", info.ServerName, info.Version)
	text += fmt.Sprintf("📁 Upload Directory: %s\n", info.UploadDirectory)
	text += fmt.Sprintf("📏 Max File Size: %d MB\n", info.MaxFileSize/(1024*1024))
	if info.FallbackEnabled {
		text += fmt.Sprintf("🤖 AI Fallback: enabled (%s)\n", info.AIProvider)
	} else {
		text += "🤖 AI Fallback: disabled\n"
	}
	if info.StorageEnabled {
		text += "🗄️  Storage: enabled\n"
	} else {
		text += "🗄️  Storage: disabled\n"
	}
	text += fmt.Sprintf("⚡ Page Cache: %d/%d entries, %.1f%% hit rate\n\n",
		info.Cache.Size, info.Cache.Capacity, info.Cache.HitRate)

	if len(info.RecentUploads) > 0 {
		text += fmt.Sprintf("📂 Recent Uploads (%d):\n", len(info.RecentUploads))
		for i, file := range info.RecentUploads {
			text += fmt.Sprintf("   %d. %s (%d bytes)\n", i+1, file.Name, file.Size)
		}
		text += "\n"
	} else {
		text += "📂 Recent Uploads: none\n\n"
	}

	text += "🛠️  Available Tools:\n"
	for _, name := range descriptions.GetAllToolNames() {
		if !info.StorageEnabled && (name == descriptions.ReceiptSave || name == descriptions.ReceiptGet) {
			continue
		}
		text += fmt.Sprintf("  • %s\n", name)
	}
	return text
}

// toolError logs err and returns the user-facing message as a tool error.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	fields := []zap.Field{zap.String("tool", tool), zap.Error(err)}
	var pe *rerrors.PipelineError
	if errors.As(err, &pe) {
		fields = append(fields, zap.String("stage", pe.Stage), zap.String("type", pe.Type.String()))
	}
	s.logger.Error("mcp: tool failed", fields...)
	return mcp.NewToolResultError(rerrors.UserMessage(err))
}

func requireRecord(request mcp.CallToolRequest) (receipt.Record, *mcp.CallToolResult) {
	raw, err := request.RequireString("record_json")
	if err != nil {
		return receipt.Record{}, mcp.NewToolResultError(err.Error())
	}
	var record receipt.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return receipt.Record{}, mcp.NewToolResultError(fmt.Sprintf("record_json is not a receipt record: %v", err))
	}
	return record, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	switch {
	case s.config.IsServerMode():
		return s.runServerMode(ctx)
	case s.config.IsStdioMode():
		return s.runStdioMode(ctx)
	default:
		return fmt.Errorf("unsupported mode: %s", s.config.Mode)
	}
}

// Handler returns the HTTP routes of server mode: the streamable MCP
// endpoint and a health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, server.NewStreamableHTTPServer(s.mcpServer,
		server.WithEndpointPath(EndpointPath),
		server.WithStateLess(true),
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// runStdioMode serves JSON-RPC over stdin/stdout until EOF or cancellation.
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Info("starting receipt MCP server in stdio mode",
		zap.String("upload_directory", s.deps.PDF.UploadDirectory()))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves the streamable HTTP transport on the configured
// address until ctx is cancelled.
func (s *Server) runServerMode(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting receipt MCP server in server mode",
			zap.String("address", httpServer.Addr),
			zap.String("endpoint", EndpointPath))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("receipt MCP server stopped")
	return nil
}
