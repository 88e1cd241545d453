// Package excports reads and writes the exception handler tables the kernel
// keeps for each thread, task and the host.
package excports

import (
	"errors"
	"fmt"
	"sync"

	"excport/internal/mach"
)

// TargetType selects which kernel table an ExceptionPorts addresses.
type TargetType int

const (
	TargetThread TargetType = iota
	TargetTask
	TargetHost
)

func (t TargetType) String() string {
	switch t {
	case TargetThread:
		return "thread"
	case TargetTask:
		return "task"
	case TargetHost:
		return "host"
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// ParseTargetType accepts "thread", "task" or "host".
func ParseTargetType(s string) (TargetType, error) {
	for _, t := range []TargetType{TargetThread, TargetTask, TargetHost} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown target %q (want thread, task or host)", s)
}

// Target names a thread, task or host by its control port. The port is
// borrowed. PortNull means the calling thread, the calling task or the
// default host, resolved on first use.
type Target struct {
	Type TargetType
	Port mach.Port
}

// Thread returns a thread target.
func Thread(port mach.Port) Target { return Target{Type: TargetThread, Port: port} }

// Task returns a task target.
func Task(port mach.Port) Target { return Target{Type: TargetTask, Port: port} }

// Host returns a host target.
func Host(port mach.Port) Target { return Target{Type: TargetHost, Port: port} }

// Handler is one entry of an exception handler table.
type Handler struct {
	Mask     mach.ExceptionMask
	Port     *mach.SendRight
	Behavior mach.Behavior
	Flavor   mach.Flavor
}

// CloseHandlers releases the port of every handler.
func CloseHandlers(handlers []Handler) error {
	var errs []error
	for _, h := range handlers {
		if err := h.Port.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExceptionPorts gets and sets exception handlers on one target. Nothing is
// cached: every call goes to the kernel.
//
// A Thread(PortNull) target resolves to the OS thread the first Get or Set
// runs on. Callers relying on that lock their goroutine to its thread.
type ExceptionPorts struct {
	kernel mach.Kernel
	target Target

	once       sync.Once
	port       mach.Port
	owned      *mach.SendRight
	resolveErr error
}

// New returns an ExceptionPorts for target. No kernel call is made until
// the first Get or Set.
func New(kernel mach.Kernel, target Target) *ExceptionPorts {
	return &ExceptionPorts{kernel: kernel, target: target}
}

// TargetTypeName returns "thread", "task" or "host".
func (e *ExceptionPorts) TargetTypeName() string { return e.target.Type.String() }

func (e *ExceptionPorts) resolve() (mach.Port, error) {
	e.once.Do(func() {
		if e.target.Port != mach.PortNull {
			e.port = e.target.Port
			return
		}
		var (
			port mach.Port
			err  error
		)
		switch e.target.Type {
		case TargetThread:
			port, err = e.kernel.ThreadSelf()
		case TargetTask:
			e.port = e.kernel.TaskSelf()
			return
		case TargetHost:
			port, err = e.kernel.HostSelf()
		default:
			err = fmt.Errorf("unknown target type %d", int(e.target.Type))
		}
		if err != nil {
			e.resolveErr = e.wrap(ErrResolveTarget, err, "cannot resolve the calling "+e.TargetTypeName(), nil)
			return
		}
		e.port = port
		e.owned = mach.AdoptSendRight(e.kernel, port)
	})
	return e.port, e.resolveErr
}

// Get returns the handlers registered for any category in mask, one per
// distinct (port, behavior, flavor). Categories with no handler are left
// out, so an empty result is not an error. Each returned Port is a fresh
// send right the caller must Close.
func (e *ExceptionPorts) Get(mask mach.ExceptionMask) ([]Handler, error) {
	target, err := e.resolve()
	if err != nil {
		return nil, err
	}

	var info mach.ExceptionPortsInfo
	switch e.target.Type {
	case TargetThread:
		info, err = e.kernel.ThreadGetExceptionPorts(target, mask)
	case TargetTask:
		info, err = e.kernel.TaskGetExceptionPorts(target, mask)
	case TargetHost:
		info, err = e.kernel.HostGetExceptionPorts(target, mask)
	}
	if err != nil {
		return nil, e.wrap(ErrKernelRejected, err,
			fmt.Sprintf("%s_get_exception_ports failed", e.TargetTypeName()),
			map[string]any{"mask": mask.String()})
	}

	n := info.Len()
	if n < 0 {
		for _, port := range info.Ports {
			_ = mach.AdoptSendRight(e.kernel, port).Close()
		}
		return nil, e.wrap(ErrKernelRejected, nil, "kernel returned mismatched handler arrays", nil)
	}

	handlers := make([]Handler, 0, n)
	for i := 0; i < n; i++ {
		if info.Ports[i] == mach.PortNull {
			continue
		}
		handlers = append(handlers, Handler{
			Mask:     info.Masks[i],
			Port:     mach.AdoptSendRight(e.kernel, info.Ports[i]),
			Behavior: info.Behaviors[i],
			Flavor:   info.Flavors[i],
		})
	}
	return handlers, nil
}

// Set installs port as the handler for every category in mask. The kernel
// takes its own send right; the caller's right stays with the caller.
// PortNull removes the handler.
//
// Default behavior must be paired with ThreadStateNone and state-carrying
// behaviors with a real flavor. An inconsistent pair or an empty mask is
// rejected before the kernel is called.
func (e *ExceptionPorts) Set(mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	if err := e.validate(mask, behavior, flavor); err != nil {
		return err
	}
	return e.set(mask, port, behavior, flavor)
}

func (e *ExceptionPorts) set(mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	target, err := e.resolve()
	if err != nil {
		return err
	}

	switch e.target.Type {
	case TargetThread:
		err = e.kernel.ThreadSetExceptionPorts(target, mask, port, behavior, flavor)
	case TargetTask:
		err = e.kernel.TaskSetExceptionPorts(target, mask, port, behavior, flavor)
	case TargetHost:
		err = e.kernel.HostSetExceptionPorts(target, mask, port, behavior, flavor)
	}
	if err != nil {
		return e.wrap(ErrKernelRejected, err,
			fmt.Sprintf("%s_set_exception_ports failed", e.TargetTypeName()),
			map[string]any{"mask": mask.String(), "behavior": behavior.String()})
	}
	return nil
}

func (e *ExceptionPorts) validate(mask mach.ExceptionMask, behavior mach.Behavior, flavor mach.Flavor) error {
	switch {
	case mask == 0:
		return e.invalid("exception mask is empty")
	case mask&^mach.MaskValid != 0:
		return e.invalid("exception mask %#x has unknown bits", uint32(mask))
	case !behavior.Valid():
		return e.invalid("unknown exception behavior %s", behavior)
	case behavior.IsStateCarrying() && flavor == mach.ThreadStateNone:
		return e.invalid("behavior %s needs a thread state flavor", behavior)
	case !behavior.IsStateCarrying() && flavor != mach.ThreadStateNone:
		return e.invalid("behavior %s takes no thread state, got flavor %d", behavior, flavor)
	}
	return nil
}

// Swap installs port for mask and returns the handlers it replaced, for a
// later Restore. On failure nothing is changed and nothing is returned.
func (e *ExceptionPorts) Swap(mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) ([]Handler, error) {
	if err := e.validate(mask, behavior, flavor); err != nil {
		return nil, err
	}
	previous, err := e.Get(mask)
	if err != nil {
		return nil, err
	}
	if err := e.Set(mask, port, behavior, flavor); err != nil {
		_ = CloseHandlers(previous)
		return nil, err
	}
	return previous, nil
}

// Restore reinstalls handlers saved by Swap, exactly as they were, and
// releases their ports. Categories in mask that no saved handler covers are
// cleared.
func (e *ExceptionPorts) Restore(mask mach.ExceptionMask, handlers []Handler) error {
	defer func() { _ = CloseHandlers(handlers) }()

	covered := mach.ExceptionMask(0)
	for _, h := range handlers {
		covered |= h.Mask
	}
	if rest := mask &^ covered; rest != 0 {
		if err := e.set(rest, mach.PortNull, mach.BehaviorDefault, mach.ThreadStateNone); err != nil {
			return err
		}
	}
	for _, h := range handlers {
		if err := e.set(h.Mask, h.Port.Name(), h.Behavior, h.Flavor); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the thread or host right resolved for a PortNull target.
func (e *ExceptionPorts) Close() error {
	if e.owned == nil {
		return nil
	}
	if err := e.owned.Close(); err != nil {
		return e.wrap(ErrReleaseRight, err, "cannot release the resolved "+e.TargetTypeName()+" right", nil)
	}
	return nil
}
