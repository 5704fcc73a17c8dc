package domain

import "fmt"

// Internal error code families:
//   1-9     internal failures (always reported as HTTP 500)
//   6xx     request validation
//   700     missing rule file
//   12xx    rule engine
const (
	ErrCodeInternal      = 3
	ErrCodeBadParameter  = 601
	ErrCodeInvalidLimit  = 602
	ErrCodeInvalidOffset = 603
	ErrCodeInvalidSort   = 604
	ErrCodeFileNotFound  = 700
	ErrCodeNoRulesConfig = 1200
	ErrCodeRuleFileRead  = 1201
	ErrCodeInvalidStatus = 1202
	ErrCodeInvalidLevel  = 1203
	ErrCodeInvalidField  = 1204
)

// descriptions maps internal error codes to human-readable text
var descriptions = map[int]string{
	1:    "Error reading manager configuration",
	2:    "Command output is not valid JSON",
	3:    "Internal error",
	4:    "Error executing internal command",
	5:    "Error accessing the manager database",
	6:    "Error writing response",
	7:    "Timeout executing internal command",
	8:    "Error serializing response",
	9:    "Unexpected internal state",
	600:  "Invalid request parameter",
	601:  "Invalid file name",
	602:  "Invalid limit parameter",
	603:  "Invalid offset parameter",
	604:  "Invalid sort parameter",
	605:  "Invalid search parameter",
	700:  "File not found",
	1200: "Rules section not found in manager configuration",
	1201: "Error reading rule file",
	1202: "Argument 'status' must be enabled, disabled or all",
	1203: "Argument 'level' must be an integer or range of integers",
	1204: "Invalid field for rule comparison",
}

// Describe resolves an internal error code to its description.
// Unknown codes fall back to a generic message so a lookup miss can
// never mask the original failure.
func Describe(code int) string {
	if msg, ok := descriptions[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error (%d)", code)
}

// CodedError couples an internal error code with an optional detail
// string. It satisfies the error interface so service failures can
// travel through normal error returns and still carry their code to
// the response layer.
type CodedError struct {
	Code   int
	Detail string
}

// NewCodedError creates a CodedError for the given code
func NewCodedError(code int) *CodedError {
	return &CodedError{Code: code}
}

// NewCodedErrorf creates a CodedError with formatted detail text
func NewCodedErrorf(code int, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *CodedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s. %s", Describe(e.Code), e.Detail)
	}
	return Describe(e.Code)
}
