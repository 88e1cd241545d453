package excports

import (
	"errors"
	"fmt"

	"excport/pkg/errx"
)

// sentinelCodes maps sentinel errors to their errx codes. Populated by
// newSentinelError during variable initialization.
var sentinelCodes = make(map[error]string)

func newSentinelError(msg, code string) error {
	err := errors.New(msg)
	sentinelCodes[err] = code
	return err
}

func codeFor(sentinel error) string { return sentinelCodes[sentinel] }

var (
	ErrKernelRejected  = newSentinelError("kernel rejected the exception port call", errx.CodeKernel)
	ErrInvalidArgument = newSentinelError("invalid exception port argument", errx.CodeKernel)
	ErrResolveTarget   = newSentinelError("cannot resolve exception port target", errx.CodeKernel)
	ErrReleaseRight    = newSentinelError("failed to release port right", errx.CodeRight)
)

func (e *ExceptionPorts) wrap(base, cause error, msg string, context map[string]any) error {
	err := errx.FromSentinel(base, codeFor, msg, cause).WithContextMap(map[string]any{
		"target": e.TargetTypeName(),
	})
	if len(context) > 0 {
		err = err.WithContextMap(context)
	}
	return err
}

func (e *ExceptionPorts) invalid(format string, args ...any) error {
	return e.wrap(ErrInvalidArgument, nil, fmt.Sprintf(format, args...), nil)
}
