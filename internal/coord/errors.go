package coord

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a coordination failure.
type Code string

const (
	CodeMissingTooling   Code = "missing_tooling"
	CodeMissingEntity    Code = "missing_entity"
	CodeNoPendingMessage Code = "no_pending_message"
	CodeCommitMismatch   Code = "commit_mismatch"
	CodeGateCloseGuard   Code = "gate_close_guard"
	CodeMalformedPayload Code = "malformed_payload"
	CodeLegacyLayout     Code = "legacy_layout"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeInvalidState     Code = "invalid_state"
)

// Error is the single failure kind returned at the engine boundary. Its
// message is meant to be shown to the operator verbatim.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err is a coordination error with code.
func IsCode(err error, code Code) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// MissingTooling wraps a collaborator that could not be started.
func MissingTooling(what string, err error) *Error {
	return &Error{Code: CodeMissingTooling, Msg: "missing tooling: " + what, Err: err}
}

// MalformedPayload reports structured input that is not well-formed.
func MalformedPayload(format string, args ...any) *Error {
	return errorf(CodeMalformedPayload, "malformed payload: "+format, args...)
}

func missingEntity(kind string, filter ...string) *Error {
	return errorf(CodeMissingEntity, "missing %s (%s)", kind, strings.Join(filter, ", "))
}

func invalidArgument(format string, args ...any) *Error {
	return errorf(CodeInvalidArgument, format, args...)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidArgument("%s is required", field)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CodeOf returns the code of a coordination error, or "" for any other
// error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
