package excmsg

import (
	"errors"

	"excport/internal/mach"
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
	ErrUnknownMessageID = newSentinelError("unknown exception message id", errx.CodeDecode)
	ErrMalformedMessage = newSentinelError("malformed exception message", errx.CodeDecode)
	ErrInvalidRequest   = newSentinelError("invalid exception request", errx.CodeDecode)
)

func decodeError(base error, msg string, context map[string]any) error {
	err := errx.FromSentinel(base, codeFor, msg, nil)
	if len(context) > 0 {
		err = err.WithContextMap(context)
	}
	return err
}

// MigCode returns the MIG return code a server replies with when Decode
// fails with err.
func MigCode(err error) mach.KernReturn {
	if errors.Is(err, ErrUnknownMessageID) {
		return mach.MigBadID
	}
	return mach.MigBadArguments
}
