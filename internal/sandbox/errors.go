package sandbox

import (
	"errors"
	"fmt"
)

// Validation error codes (E100-E199).
const (
	// ErrCapabilityViolation: script references a name outside the allowlist.
	ErrCapabilityViolation = "E101"
	// ErrDuplicateHook: same hook kind registered twice.
	ErrDuplicateHook = "E102"
	// ErrModuleScopeCall: state/emit/log called at module scope.
	ErrModuleScopeCall = "E103"
	// ErrSyntax: source does not parse.
	ErrSyntax = "E104"
	// ErrMetadata: frontmatter metadata fails schema validation.
	ErrMetadata = "E105"
	// ErrScriptID: script id is not a valid slug.
	ErrScriptID = "E106"
	// ErrSourceTooLarge: source exceeds the size bound.
	ErrSourceTooLarge = "E107"
	// ErrModuleScopeFailed: module scope raised during the discovery run.
	ErrModuleScopeFailed = "E108"
	// ErrModuleScopeMutation: hook code assigns to a module-scope local.
	ErrModuleScopeMutation = "E109"
)

// ValidationError is a compile-time admission error. Scripts with any
// validation error are never admitted to execution.
type ValidationError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ScriptID string `json:"script_id,omitempty"`
	Name     string `json:"name,omitempty"` // offending identifier, if any
	Line     int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s", e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ExecErrorCode categorizes runtime execution errors.
type ExecErrorCode string

const (
	// CodeRuntimeError indicates an uncaught error inside hook code.
	CodeRuntimeError ExecErrorCode = "RUNTIME_ERROR"

	// CodeTimeout indicates the hook exceeded its wall-clock deadline.
	CodeTimeout ExecErrorCode = "TIMEOUT"

	// CodeResourceExceeded indicates the hook exhausted a VM resource
	// bound (registry, call stack) or wrote an oversized state value.
	CodeResourceExceeded ExecErrorCode = "RESOURCE_EXCEEDED"
)

// ExecError is returned when a hook invocation fails. The call's state
// delta and emission buffer are discarded; committed session state is
// untouched.
type ExecError struct {
	Code      ExecErrorCode
	Message   string
	ScriptID  string
	Hook      HookKind
	Traceback string
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Hook != 0 {
		return fmt.Sprintf("%s: %s (script=%s, hook=%s)", e.Code, e.Message, e.ScriptID, e.Hook)
	}
	return fmt.Sprintf("%s: %s (script=%s)", e.Code, e.Message, e.ScriptID)
}

// IsTimeout reports whether err is an ExecError with CodeTimeout.
func IsTimeout(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Code == CodeTimeout
}

// IsResourceExceeded reports whether err is an ExecError with
// CodeResourceExceeded.
func IsResourceExceeded(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Code == CodeResourceExceeded
}

// IsRuntimeError reports whether err is an ExecError with
// CodeRuntimeError.
func IsRuntimeError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Code == CodeRuntimeError
}
