package mach

import "time"

// ExceptionPortsInfo is the raw result of a *_get_exception_ports call: four
// parallel arrays, one entry per distinct handler.
type ExceptionPortsInfo struct {
	Masks     []ExceptionMask
	Ports     []Port
	Behaviors []Behavior
	Flavors   []Flavor
}

// Len is the number of entries, or -1 if the arrays disagree.
func (i ExceptionPortsInfo) Len() int {
	n := len(i.Masks)
	if len(i.Ports) != n || len(i.Behaviors) != n || len(i.Flavors) != n {
		return -1
	}
	return n
}

// Kernel is the set of Mach primitives used by the exception-port core.
//
// Every method returning a Port as a right transfers one user reference to
// the caller. The *SetExceptionPorts calls copy the caller's send right; they
// never consume it.
type Kernel interface {
	// TaskSelf returns mach_task_self(). The name is not owned.
	TaskSelf() Port
	// ThreadSelf returns mach_thread_self(), an owned send right.
	ThreadSelf() (Port, error)
	// HostSelf returns mach_host_self(), an owned send right.
	HostSelf() (Port, error)
	// TaskForPID returns an owned send right to the task of pid.
	TaskForPID(pid int) (Port, error)

	TaskGetExceptionPorts(task Port, mask ExceptionMask) (ExceptionPortsInfo, error)
	ThreadGetExceptionPorts(thread Port, mask ExceptionMask) (ExceptionPortsInfo, error)
	HostGetExceptionPorts(host Port, mask ExceptionMask) (ExceptionPortsInfo, error)

	TaskSetExceptionPorts(task Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error
	ThreadSetExceptionPorts(thread Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error
	HostSetExceptionPorts(host Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error

	// AllocateReceivePort creates a new port and returns its receive right.
	AllocateReceivePort() (Port, error)
	// InsertSendRight makes a send right from the receive right name.
	InsertSendRight(name Port) error
	// DeallocatePort drops one user reference of a send or send-once right.
	DeallocatePort(name Port) error
	// DestroyReceiveRight drops the receive right, destroying the port.
	DestroyReceiveRight(name Port) error

	// Receive blocks until a message arrives on port and copies it into
	// buf, returning the message size (excluding the trailer). A zero
	// timeout waits forever; a negative timeout polls once.
	Receive(port Port, buf []byte, timeout time.Duration) (int, error)
	// Send sends msg, whose header names the destination.
	Send(msg []byte) error
	// DestroyMessage releases every right carried by a received message.
	DestroyMessage(msg []byte)
}
