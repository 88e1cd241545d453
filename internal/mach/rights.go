package mach

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrRightReleased is returned when an owned right is closed twice.
var ErrRightReleased = errors.New("port right already released")

// SendRight owns exactly one user reference of a send right.
type SendRight struct {
	kernel   Kernel
	name     Port
	released atomic.Bool
}

// AdoptSendRight takes ownership of one send-right reference on name.
func AdoptSendRight(k Kernel, name Port) *SendRight {
	return &SendRight{kernel: k, name: name}
}

// Name returns the port name. The name stays meaningful only until Close.
func (r *SendRight) Name() Port {
	if r == nil {
		return PortNull
	}
	return r.name
}

// Close releases the reference. Closing a null or dead right is a no-op;
// closing twice returns ErrRightReleased.
func (r *SendRight) Close() error {
	if r == nil || r.name == PortNull || r.name == PortDead {
		return nil
	}
	if r.released.Swap(true) {
		return ErrRightReleased
	}
	if err := r.kernel.DeallocatePort(r.name); err != nil {
		return fmt.Errorf("mach_port_deallocate %#x: %w", uint32(r.name), err)
	}
	return nil
}

func (r *SendRight) String() string { return fmt.Sprintf("send(%#x)", uint32(r.Name())) }

// ReceiveRight owns the receive right of a port created by this process.
type ReceiveRight struct {
	kernel   Kernel
	name     Port
	released atomic.Bool
}

// NewReceiveRight allocates a fresh port.
func NewReceiveRight(k Kernel) (*ReceiveRight, error) {
	name, err := k.AllocateReceivePort()
	if err != nil {
		return nil, fmt.Errorf("mach_port_allocate: %w", err)
	}
	return &ReceiveRight{kernel: k, name: name}, nil
}

// Name returns the port name.
func (r *ReceiveRight) Name() Port {
	if r == nil {
		return PortNull
	}
	return r.name
}

// MakeSend creates a send right on the port. The returned right shares the
// receive right's name and must be closed separately.
func (r *ReceiveRight) MakeSend() (*SendRight, error) {
	if r.released.Load() {
		return nil, ErrRightReleased
	}
	if err := r.kernel.InsertSendRight(r.name); err != nil {
		return nil, fmt.Errorf("mach_port_insert_right %#x: %w", uint32(r.name), err)
	}
	return AdoptSendRight(r.kernel, r.name), nil
}

// Close destroys the port. Pending and future receives on it fail.
func (r *ReceiveRight) Close() error {
	if r == nil || r.name == PortNull {
		return nil
	}
	if r.released.Swap(true) {
		return ErrRightReleased
	}
	if err := r.kernel.DestroyReceiveRight(r.name); err != nil {
		return fmt.Errorf("mach_port_mod_refs %#x: %w", uint32(r.name), err)
	}
	return nil
}

func (r *ReceiveRight) String() string { return fmt.Sprintf("receive(%#x)", uint32(r.Name())) }
