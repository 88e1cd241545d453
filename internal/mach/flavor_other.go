//go:build !arm64

package mach

// x86 values from <mach/i386/thread_status.h>, also used on hosts that
// cannot run the kernel so the codec and tests stay buildable.
const (
	ThreadStateNone    Flavor = 13
	MachineThreadState Flavor = 7 // x86_THREAD_STATE

	// MachineThreadStateCount is x86_THREAD_STATE_COUNT.
	MachineThreadStateCount = 44

	// ThreadStateMax is THREAD_STATE_MAX, in natural_t units.
	ThreadStateMax = 614
)
