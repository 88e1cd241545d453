package mach

// arm64 values from <mach/arm/thread_status.h>.
const (
	ThreadStateNone    Flavor = 5
	MachineThreadState Flavor = 1 // ARM_THREAD_STATE, the unified 32/64 shape

	// MachineThreadStateCount is ARM_UNIFIED_THREAD_STATE_COUNT.
	MachineThreadStateCount = 70

	// ThreadStateMax is THREAD_STATE_MAX, in natural_t units.
	ThreadStateMax = 1296
)
