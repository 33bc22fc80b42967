package oerr

import (
	"errors"
	"fmt"
)

// E is the coded error every operator subsystem surfaces across package
// boundaries. Code is a stable machine identifier (e.g. POLICY_CHAIN_DENIED);
// Details carries structured context serialized into audit events and the
// public failure return. Internal causes are wrapped, never exposed.
type E struct {
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *E) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *E) Unwrap() error { return e.cause }

// New builds a coded error with a formatted message.
func New(code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error. The cause is reachable via
// errors.Is/As but is not rendered into the public error shape.
func Wrap(code, message string, cause error) *E {
	return &E{Code: code, Message: message, cause: cause}
}

// With returns a copy of the error carrying an extra detail entry.
func (e *E) With(key string, value any) *E {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &E{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// From extracts the coded error from an error chain. When the chain carries
// no *E the whole error is folded into an INTERNAL_ERROR so that stack
// context never crosses the public boundary.
func From(err error) *E {
	if err == nil {
		return nil
	}
	var coded *E
	if errors.As(err, &coded) {
		return coded
	}
	return &E{Code: "INTERNAL_ERROR", Message: err.Error()}
}

// Is reports whether the chain contains a coded error with the given code.
func Is(err error, code string) bool {
	coded := From(err)
	return coded != nil && coded.Code == code
}
