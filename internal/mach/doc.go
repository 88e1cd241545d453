// Package mach is the thin seam between the exception-port core and the
// Mach kernel.
//
// It defines the value types the kernel speaks (port names, kern_return_t,
// exception types and masks, behaviors, thread-state flavors), the message
// header layout shared by every Mach message, the owned-right wrappers
// SendRight and ReceiveRight, and the Kernel interface. System returns the
// real kernel on darwin; elsewhere every call fails with KERN_NOT_SUPPORTED.
// Package machtest provides an in-memory Kernel for tests.
package mach
