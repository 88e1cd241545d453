// Package errx provides structured, code-based errors for the exception-port
// tooling.
//
// Every error carries:
//   - A stable 5-digit code (e.g. "71000" for a rejected kernel call)
//   - A category description (e.g. "Kernel call rejected")
//   - A user-facing message
//   - Optional structured context (key-value pairs)
//   - Optional cause and base sentinel errors
//
// The first two digits of a code name the domain:
//   - 70xxx: CLI/argument validation errors
//   - 71xxx: Kernel calls rejected (bad target, privilege, invalid argument)
//   - 72xxx: Exception message decode errors
//   - 73xxx: Message receive errors
//   - 74xxx: Message send errors
//   - 75xxx: Timeouts while waiting for a notification
//   - 76xxx: Port right ownership errors
//   - 79xxx: Configuration errors
//
// The last three digits are reserved for subcodes.
//
// Example usage:
//
//	err := errx.WrapKernel("task_get_exception_ports failed", kr).
//		WithContext("target", "task").
//		WithBase(excports.ErrKernelRejected)
//
//	if errors.Is(err, excports.ErrKernelRejected) {
//		// Handle specific error
//	}
//
//	fmt.Println(errx.UserString(err))  // User-friendly message
//	fmt.Println(errx.DebugString(err)) // Full debug details
package errx
