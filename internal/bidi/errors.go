package bidi

// ErrorCode is the BiDi wire error-code enumeration.
type ErrorCode string

const (
	InvalidArgument       ErrorCode = "invalid argument"
	InvalidSessionID       ErrorCode = "invalid session id"
	NoSuchAlert            ErrorCode = "no such alert"
	NoSuchElement          ErrorCode = "no such element"
	NoSuchFrame            ErrorCode = "no such frame"
	NoSuchHandle           ErrorCode = "no such handle"
	NoSuchNode             ErrorCode = "no such node"
	NoSuchScript           ErrorCode = "no such script"
	SessionNotCreated      ErrorCode = "session not created"
	UnableToCaptureScreen  ErrorCode = "unable to capture screen"
	UnableToCloseBrowser   ErrorCode = "unable to close browser"
	UnknownCommand         ErrorCode = "unknown command"
	UnknownError           ErrorCode = "unknown error"
	UnsupportedOperation   ErrorCode = "unsupported operation"
)

// Error is the tagged-variant error type used throughout the mediator. It
// implements the standard error interface and Unwrap, so CDP-originated
// causes can be inspected with errors.As/errors.Is.
type Error struct {
	Code        ErrorCode
	Message     string
	StackTrace  string
	RecoveredID *uint64 // set only for envelope-level parse failures
	Cause       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given code with a message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error of the given code, preserving cause for Unwrap.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NoSuchFrameErr is a convenience constructor used pervasively by
// internal/browsingcontext and internal/realm when a referenced context id
// no longer resolves in storage.
func NoSuchFrameErr(contextID string) *Error {
	return New(NoSuchFrame, "No browsing context with id "+contextID)
}

// UnknownErrorFrom wraps an arbitrary CDP-originated failure as an unknown
// error, preserving the original CDP message text.
func UnknownErrorFrom(err error) *Error {
	if err == nil {
		return New(UnknownError, "")
	}
	return Wrap(UnknownError, err.Error(), err)
}
