package notice

import "fmt"

// ParseError reports a payload that could not be decoded. Path names the
// offending field in the normalized document, empty for whole-payload
// failures such as an unknown serialization.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Path == "" {
		return "parse notice: " + msg
	}
	return fmt.Sprintf("parse notice: %s: %s", e.Path, msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

func perr(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func perrWrap(path, reason string, err error) *ParseError {
	return &ParseError{Path: path, Reason: reason, Err: err}
}
