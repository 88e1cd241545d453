package errx

import "errors"

// Error is the structured error type shared by every package in the module.
type Error struct {
	code        string
	description string
	message     string
	context     map[string]any
	cause       error
	base        error
}

// New creates an Error with the provided code, description, and message.
func New(code, description, message string) *Error {
	return &Error{code: code, description: description, message: message}
}

// Wrap creates an Error that records cause as its immediate wrapped error.
func Wrap(code, description, message string, cause error) *Error {
	e := New(code, description, message)
	e.cause = cause
	return e
}

// Error implements the error interface. The message wins over the
// description, which wins over the bare code.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.message != "":
		return e.message
	case e.description != "":
		return e.description
	case e.code != "":
		return e.code
	}
	return "error"
}

// Unwrap returns the cause. The base sentinel is matched by Is instead.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target matches the base sentinel or anything in the
// cause chain.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if e.base != nil && errors.Is(e.base, target) {
		return true
	}
	return errors.Is(e.cause, target)
}

// Code returns the stable error code.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return e.code
}

// Description returns the category description.
func (e *Error) Description() string {
	if e == nil {
		return ""
	}
	return e.description
}

// Message returns the user-facing message.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Context returns a copy of the structured context, or nil when empty.
func (e *Error) Context() map[string]any {
	if e == nil || len(e.context) == 0 {
		return nil
	}
	return copyContext(e.context, 0)
}

// Cause returns the wrapped error, if any.
func (e *Error) Cause() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Base returns the sentinel base error, if any.
func (e *Error) Base() error {
	if e == nil {
		return nil
	}
	return e.base
}

// WithContext returns a copy of e with key set in its context.
func (e *Error) WithContext(key string, value any) *Error {
	if e == nil {
		return nil
	}
	c := e.clone(1)
	c.context[key] = value
	return c
}

// WithContextMap returns a copy of e with ctx merged into its context.
func (e *Error) WithContextMap(ctx map[string]any) *Error {
	if e == nil {
		return nil
	}
	c := e.clone(len(ctx))
	for key, value := range ctx {
		c.context[key] = value
	}
	return c
}

// WithBase returns a copy of e whose base sentinel is base.
func (e *Error) WithBase(base error) *Error {
	if e == nil {
		return nil
	}
	c := e.clone(0)
	c.base = base
	return c
}

// clone copies e, reserving room for extra context entries. The original is
// never mutated so sentinel-derived errors can be shared.
func (e *Error) clone(extra int) *Error {
	return &Error{
		code:        e.code,
		description: e.description,
		message:     e.message,
		context:     copyContext(e.context, extra),
		cause:       e.cause,
		base:        e.base,
	}
}

func copyContext(ctx map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(ctx)+extra)
	for key, value := range ctx {
		out[key] = value
	}
	return out
}
