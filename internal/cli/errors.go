package cli

// This file defines error handling utilities for the CLI, including:
//   - Sentinel errors for each error category
//   - Error wrapping functions that integrate with the errx error system
//   - Structured error logging with context
//   - Debug mode management for error output

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"excport/pkg/errx"
)

var (
	debugMode   bool
	debugModeMu sync.RWMutex
)

// SetDebugMode sets the global debug mode flag.
// When enabled, logStructuredError will output structured error logs to terminal.
func SetDebugMode(enabled bool) {
	debugModeMu.Lock()
	defer debugModeMu.Unlock()
	debugMode = enabled
}

// IsDebugMode returns whether debug mode is enabled.
func IsDebugMode() bool {
	debugModeMu.RLock()
	defer debugModeMu.RUnlock()
	return debugMode
}

// newSentinelError creates a sentinel error and registers its code in one step.
func newSentinelError(msg, code string) error {
	err := errors.New(msg)
	errorCodes[err] = code
	return err
}

// errorCodes maps sentinel errors to their error codes.
// Must be declared before sentinel errors to ensure proper initialization order.
var errorCodes = make(map[error]string)

// codeFor provides a lookup function for errx.FromSentinel.
func codeFor(sentinel error) string {
	if code, ok := errorCodes[sentinel]; ok {
		return code
	}
	return errx.CodeCLI
}

// newWithSentinel creates a new error categorized by its sentinel.
func newWithSentinel(base error, msg string) error {
	return wrapWithSentinel(base, nil, msg)
}

// wrapWithSentinel wraps a cause error categorized by its sentinel.
func wrapWithSentinel(base, cause error, msg string) error {
	if base == nil {
		return errx.CreateByCode(errx.CodeCLI, msg, cause)
	}
	return errx.FromSentinel(base, codeFor, msg, cause)
}

// wrapWithSentinelAndContext wraps an error with additional structured context
// such as the target, pid or mask involved.
func wrapWithSentinelAndContext(base, cause error, msg string, context map[string]any) error {
	err := wrapWithSentinel(base, cause, msg)
	if errxErr, ok := err.(*errx.Error); ok && len(context) > 0 {
		return errxErr.WithContextMap(context)
	}
	return err
}

// Sentinel errors for CLI operations.
var (
	// CLI errors.
	ErrInvalidMask     = newSentinelError("invalid exception mask", errx.CodeCLI)
	ErrInvalidBehavior = newSentinelError("invalid exception behavior", errx.CodeCLI)
	ErrInvalidTarget   = newSentinelError("invalid target", errx.CodeCLI)
	ErrInvalidCode     = newSentinelError("invalid exception code", errx.CodeCLI)

	// Kernel errors.
	ErrTaskForPIDFailed   = newSentinelError("task_for_pid failed", errx.CodeKernel)
	ErrGetPortsFailed     = newSentinelError("failed to read exception ports", errx.CodeKernel)
	ErrInstallFailed      = newSentinelError("failed to install exception handler", errx.CodeKernel)
	ErrRestoreFailed      = newSentinelError("failed to restore exception handlers", errx.CodeKernel)
	ErrAllocatePortFailed = newSentinelError("failed to allocate exception port", errx.CodeRight)

	// Watch errors.
	ErrNoException   = newSentinelError("no exception before the timeout", errx.CodeTimeout)
	ErrMetricsServer = newSentinelError("metrics endpoint failed", errx.CodeCLI)

	// Config errors.
	ErrReadConfigFailed      = newSentinelError("failed to read config file", errx.CodeConfig)
	ErrUnmarshalConfigFailed = newSentinelError("failed to unmarshal config file", errx.CodeConfig)
	ErrEnvConfigFailed       = newSentinelError("invalid environment configuration", errx.CodeConfig)
	ErrInvalidConfig         = newSentinelError("invalid configuration value", errx.CodeConfig)
)

// logStructuredError logs an error with structured fields to terminal.
// Only logs when debug mode is enabled (via --debug flag).
//
// This extracts all context from errx.Error and logs it with structured fields:
// - error.code: "71000"
// - error.category: "Kernel call rejected"
// - error.context.target: "host"
// - error.context.mask: "crash"
func logStructuredError(logger *zap.Logger, err error, msg string) {
	if logger == nil || err == nil || !IsDebugMode() {
		return
	}

	var errxErr *errx.Error
	if errors.As(err, &errxErr) {
		fields := []zap.Field{
			zap.String("error.code", errxErr.Code()),
			zap.String("error.category", errxErr.Description()),
			zap.String("error.message", errxErr.Message()),
			zap.Error(err),
		}

		if ctx := errxErr.Context(); ctx != nil {
			for key, value := range ctx {
				fields = append(fields, zap.Any("error.context."+key, value))
			}
		}

		// Distinct field name to avoid a duplicate "error" field.
		if cause := errxErr.Cause(); cause != nil {
			fields = append(fields, zap.NamedError("error.cause", cause))
		}

		logger.Error(msg, fields...)
	} else {
		logger.Error(msg, zap.Error(err))
	}
}
