package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// PipelineError describes a failure inside the receipt pipeline together with
// the stage it happened in and whether the upload can still proceed.
type PipelineError struct {
	Type        ErrorType `json:"type"`
	Stage       string    `json:"stage,omitempty"`
	Message     string    `json:"message"`
	Context     string    `json:"context,omitempty"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
	FilePath    string    `json:"file_path,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	Cause       error     `json:"-"`
}

// ErrorType groups pipeline failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeInvalidInput
	ErrorTypePDFExtraction
	ErrorTypeNoText
	ErrorTypeFallbackCredentials
	ErrorTypeFallbackService
	ErrorTypeFallbackResponse
	ErrorTypeFallbackTimeout
	ErrorTypeStorage
)

// Stage names used in errors and log fields.
const (
	StageValidate    = "validate"
	StageText        = "text"
	StagePreview     = "preview"
	StageReconstruct = "reconstruct"
	StagePattern     = "pattern"
	StageGate        = "gate"
	StageFallback    = "fallback"
	StageVerify      = "verify"
	StageStore       = "store"
)

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type.String(), e.Message)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches another *PipelineError by type, so sentinel values built with
// New can be used with errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	return ok && t.Type == e.Type
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeInvalidInput:
		return "INVALID_INPUT"
	case ErrorTypePDFExtraction:
		return "PDF_EXTRACTION"
	case ErrorTypeNoText:
		return "NO_TEXT"
	case ErrorTypeFallbackCredentials:
		return "FALLBACK_CREDENTIALS"
	case ErrorTypeFallbackService:
		return "FALLBACK_SERVICE"
	case ErrorTypeFallbackResponse:
		return "FALLBACK_RESPONSE"
	case ErrorTypeFallbackTimeout:
		return "FALLBACK_TIMEOUT"
	case ErrorTypeStorage:
		return "STORAGE"
	default:
		return "UNKNOWN"
	}
}

// IsRecoverable reports whether the upload can continue with a partial result.
// Only failures to obtain the PDF text abort an upload.
func (et ErrorType) IsRecoverable() bool {
	switch et {
	case ErrorTypeInvalidInput, ErrorTypePDFExtraction, ErrorTypeNoText:
		return false
	case ErrorTypeFallbackCredentials, ErrorTypeFallbackService,
		ErrorTypeFallbackResponse, ErrorTypeFallbackTimeout:
		return true
	case ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// UserMessage is the short text shown to end users. Internal details never
// leave the service.
func (et ErrorType) UserMessage() string {
	switch et {
	case ErrorTypeInvalidInput, ErrorTypePDFExtraction, ErrorTypeNoText:
		return "Failed to process PDF"
	case ErrorTypeFallbackCredentials, ErrorTypeFallbackService,
		ErrorTypeFallbackResponse, ErrorTypeFallbackTimeout:
		return "AI failed too. Using partial data."
	case ErrorTypeStorage:
		return "Could not save receipt"
	default:
		return "Something went wrong"
	}
}

// New creates a PipelineError of the given type.
func New(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:        errorType,
		Message:     message,
		Recoverable: errorType.IsRecoverable(),
		Timestamp:   time.Now(),
	}
}

// Wrap attaches cause to a new PipelineError.
func Wrap(errorType ErrorType, message string, cause error) *PipelineError {
	e := New(errorType, message)
	e.Cause = cause
	return e
}

// WithStage records the pipeline stage.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithContext adds context to an existing PipelineError
func (e *PipelineError) WithContext(context string) *PipelineError {
	e.Context = context
	return e
}

// WithFile adds file path information to an existing PipelineError
func (e *PipelineError) WithFile(filePath string) *PipelineError {
	e.FilePath = filePath
	return e
}

// WithPage adds page number information to an existing PipelineError
func (e *PipelineError) WithPage(pageNumber int) *PipelineError {
	e.PageNumber = pageNumber
	return e
}

// TypeOf returns the ErrorType carried anywhere in err's chain.
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeUnknown
}

// IsFatal reports whether err must abort the current upload.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return !pe.Recoverable
	}
	return true
}

// UserMessage returns the end-user text for err.
func UserMessage(err error) string {
	return TypeOf(err).UserMessage()
}
