package catcher

import "excport/internal/mach"

// RecoverOriginalException unpacks codes[0] of an EXC_CRASH notification.
//
// The kernel builds that code in proc_prepareexit (bsd/kern/kern_exit.c):
// bits 24-31 hold the terminating signal, bits 20-23 the exception that
// caused it, and bits 0-19 that exception's first code. The exception is 0
// when the process died from a signal no Mach exception produced.
func RecoverOriginalException(code0 int64) (exception mach.ExceptionType, originalCode int64, signal int) {
	c := uint64(code0)
	exception = mach.ExceptionType((c >> 20) & 0xf)
	originalCode = int64(c & 0xfffff)
	signal = int((c >> 24) & 0xff)
	return exception, originalCode, signal
}
