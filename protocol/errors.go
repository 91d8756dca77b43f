package protocol

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 and CKP error codes.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
	CodeVersionNotSupported = -32001
	CodeSandboxDenied       = -32010
	CodePolicyDenied        = -32011
	CodeApprovalTimeout     = -32012
	CodeApprovalDenied      = -32013
	CodeToolTimeout         = -32014
	CodeQuotaExceeded       = -32021
)

var codeNames = map[int]string{
	CodeParseError:          "PARSE_ERROR",
	CodeInvalidRequest:      "INVALID_REQUEST",
	CodeMethodNotFound:      "METHOD_NOT_FOUND",
	CodeInvalidParams:       "INVALID_PARAMS",
	CodeInternalError:       "INTERNAL_ERROR",
	CodeVersionNotSupported: "PROTOCOL_VERSION_NOT_SUPPORTED",
	CodeSandboxDenied:       "SANDBOX_DENIED",
	CodePolicyDenied:        "POLICY_DENIED",
	CodeApprovalTimeout:     "APPROVAL_TIMEOUT",
	CodeApprovalDenied:      "APPROVAL_DENIED",
	CodeToolTimeout:         "TOOL_EXECUTION_TIMEOUT",
	CodeQuotaExceeded:       "PROVIDER_QUOTA_EXCEEDED",
}

// CodeName returns the symbolic name of a CKP error code, or "UNKNOWN".
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is a JSON-RPC error object. It implements error so handlers can
// return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError creates an error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ckp %s (%d): %s", CodeName(e.Code), e.Code, e.Message)
}

// WithData returns a copy of the error carrying the given data member.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AsError converts err into a wire error. *Error values anywhere in the
// chain are returned as-is; everything else becomes an internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return Internal("Internal error: " + err.Error())
}

// ParseError reports a frame that is not valid JSON.
func ParseError() *Error {
	return NewError(CodeParseError, "Parse error")
}

// InvalidRequest reports a malformed envelope or a method that is illegal in
// the current lifecycle state.
func InvalidRequest(message string) *Error {
	return NewError(CodeInvalidRequest, message)
}

// MethodNotFound reports an unregistered method.
func MethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "Method not found: "+method)
}

// InvalidParams reports missing or mistyped parameters.
func InvalidParams(message string) *Error {
	return NewError(CodeInvalidParams, message)
}

// Internal reports a handler defect.
func Internal(message string) *Error {
	return NewError(CodeInternalError, message)
}

// VersionNotSupported reports a protocol major-version mismatch and lists the
// supported versions in the data member.
func VersionNotSupported() *Error {
	return NewError(CodeVersionNotSupported, "Protocol version not supported").
		WithData(map[string]any{"supported": SupportedVersions})
}

// SandboxDenied reports a sandbox gate denial.
func SandboxDenied(message string) *Error {
	return NewError(CodeSandboxDenied, orDefault(message, "Sandbox denied"))
}

// PolicyDenied reports a policy gate denial.
func PolicyDenied(message string) *Error {
	return NewError(CodePolicyDenied, orDefault(message, "Policy denied"))
}

// ApprovalTimeout reports that no approval decision arrived in time.
func ApprovalTimeout() *Error {
	return NewError(CodeApprovalTimeout, "Approval timeout")
}

// ApprovalDenied reports an explicit operator denial.
func ApprovalDenied(reason string) *Error {
	return NewError(CodeApprovalDenied, orDefault(reason, "Approval denied"))
}

// ToolTimeout reports a tool that did not finish within its budget.
func ToolTimeout(tool string) *Error {
	return NewError(CodeToolTimeout, "Tool execution timeout: "+tool)
}

// QuotaExceeded reports a quota gate denial.
func QuotaExceeded(message string) *Error {
	return NewError(CodeQuotaExceeded, orDefault(message, "Provider quota exceeded"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Guard runs a capability handler call. Errors that are not already *Error
// values, and panics, become internal errors whose message is prefixed with
// op, e.g. "Memory store error: connection refused".
func Guard[T any](op string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, Internal(fmt.Sprintf("%s error: %v", op, r))
		}
	}()
	result, err = fn()
	if err == nil {
		return result, nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return result, perr
	}
	var zero T
	return zero, Internal(op + " error: " + err.Error())
}
