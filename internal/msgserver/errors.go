package msgserver

import (
	"errors"

	"excport/pkg/errx"

	"github.com/go-logr/logr"
)

// sentinelCodes maps sentinel errors to their errx codes.
var sentinelCodes = make(map[error]string)

func newSentinelError(msg, code string) error {
	err := errors.New(msg)
	sentinelCodes[err] = code
	return err
}

func codeFor(sentinel error) string { return sentinelCodes[sentinel] }

// Sentinel errors for the message server.
var (
	ErrReceive = newSentinelError("failed to receive exception message", errx.CodeReceive)
	ErrDecode  = newSentinelError("failed to decode exception message", errx.CodeDecode)
	ErrSend    = newSentinelError("failed to send exception reply", errx.CodeSend)
	ErrTimeout = newSentinelError("timed out waiting for an exception message", errx.CodeTimeout)
	ErrConfig  = newSentinelError("invalid server configuration", errx.CodeCLI)
)

// wrapServerError wraps cause under a server sentinel with structured
// context. The context map should carry fields like:
//   - "port": the receive port
//   - "msgID": the request message id
//   - "result": the catcher's return code
func wrapServerError(base, cause error, msg string, context map[string]any) error {
	wrapped := errx.FromSentinel(base, codeFor, msg, cause)
	if len(context) > 0 {
		wrapped = wrapped.WithContextMap(context)
	}
	return wrapped
}

// logServerError logs err with the errx fields flattened into key-value
// pairs:
//   - error.code: "73000"
//   - error.category: "Message receive error"
//   - error.message: "receive failed"
//   - error.context.port: "0x1103"
//
// Errors that are not errx errors are logged as they are.
func logServerError(logger logr.Logger, err error, msg string) {
	if err == nil {
		return
	}

	var errxErr *errx.Error
	if !errors.As(err, &errxErr) {
		logger.Error(err, msg)
		return
	}

	keysAndValues := []interface{}{
		"error.code", errxErr.Code(),
		"error.category", errxErr.Description(),
		"error.message", errxErr.Message(),
	}
	for key, value := range errxErr.Context() {
		keysAndValues = append(keysAndValues, "error.context."+key, value)
	}
	if cause := errxErr.Cause(); cause != nil {
		keysAndValues = append(keysAndValues, "error.cause", cause.Error())
	}
	logger.Error(err, msg, keysAndValues...)
}
