//go:build !darwin || !cgo

package mach

import "time"

// System returns a kernel whose every call fails with KERN_NOT_SUPPORTED;
// Mach exception ports exist only on darwin built with cgo.
func System() Kernel { return unsupportedKernel{} }

type unsupportedKernel struct{}

func (unsupportedKernel) TaskSelf() Port                   { return PortNull }
func (unsupportedKernel) ThreadSelf() (Port, error)        { return PortNull, KernNotSupported }
func (unsupportedKernel) HostSelf() (Port, error)          { return PortNull, KernNotSupported }
func (unsupportedKernel) TaskForPID(pid int) (Port, error) { return PortNull, KernNotSupported }

func (unsupportedKernel) TaskGetExceptionPorts(Port, ExceptionMask) (ExceptionPortsInfo, error) {
	return ExceptionPortsInfo{}, KernNotSupported
}

func (unsupportedKernel) ThreadGetExceptionPorts(Port, ExceptionMask) (ExceptionPortsInfo, error) {
	return ExceptionPortsInfo{}, KernNotSupported
}

func (unsupportedKernel) HostGetExceptionPorts(Port, ExceptionMask) (ExceptionPortsInfo, error) {
	return ExceptionPortsInfo{}, KernNotSupported
}

func (unsupportedKernel) TaskSetExceptionPorts(Port, ExceptionMask, Port, Behavior, Flavor) error {
	return KernNotSupported
}

func (unsupportedKernel) ThreadSetExceptionPorts(Port, ExceptionMask, Port, Behavior, Flavor) error {
	return KernNotSupported
}

func (unsupportedKernel) HostSetExceptionPorts(Port, ExceptionMask, Port, Behavior, Flavor) error {
	return KernNotSupported
}

func (unsupportedKernel) AllocateReceivePort() (Port, error) { return PortNull, KernNotSupported }
func (unsupportedKernel) InsertSendRight(Port) error          { return KernNotSupported }
func (unsupportedKernel) DeallocatePort(Port) error           { return KernNotSupported }
func (unsupportedKernel) DestroyReceiveRight(Port) error      { return KernNotSupported }

func (unsupportedKernel) Receive(Port, []byte, time.Duration) (int, error) {
	return 0, KernNotSupported
}

func (unsupportedKernel) Send([]byte) error    { return KernNotSupported }
func (unsupportedKernel) DestroyMessage([]byte) {}
