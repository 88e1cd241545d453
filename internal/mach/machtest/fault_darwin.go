//go:build darwin && cgo

package machtest

/*
#include <signal.h>

static volatile int excport_zero = 0;

static int excport_divide(void) {
	signal(SIGFPE, SIG_DFL);
#if defined(__x86_64__)
	return 1 / excport_zero;
#else
	raise(SIGFPE);
	return 0;
#endif
}
*/
import "C"

// DivideByZero kills the calling process with SIGFPE from C code, outside
// the Go runtime's signal handling. x86 faults on the division itself; arm64
// does not trap on integer division, so the signal is raised directly.
// Either way the kernel reports the death as EXC_CRASH.
func DivideByZero() { C.excport_divide() }
