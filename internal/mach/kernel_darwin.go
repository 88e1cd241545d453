//go:build darwin && cgo

package mach

/*
#include <mach/mach.h>
#include <mach/mach_traps.h>

static mach_port_t excport_task_self(void) { return mach_task_self(); }

static kern_return_t excport_get(int scope, mach_port_t target,
		exception_mask_t mask, exception_mask_t *masks,
		mach_msg_type_number_t *count, mach_port_t *ports,
		exception_behavior_t *behaviors, thread_state_flavor_t *flavors) {
	switch (scope) {
	case 0:
		return thread_get_exception_ports(target, mask, masks, count, ports, behaviors, flavors);
	case 1:
		return task_get_exception_ports(target, mask, masks, count, ports, behaviors, flavors);
	case 2:
		return host_get_exception_ports(target, mask, masks, count, ports, behaviors, flavors);
	}
	return KERN_INVALID_ARGUMENT;
}

static kern_return_t excport_set(int scope, mach_port_t target,
		exception_mask_t mask, mach_port_t port,
		exception_behavior_t behavior, thread_state_flavor_t flavor) {
	switch (scope) {
	case 0:
		return thread_set_exception_ports(target, mask, port, behavior, flavor);
	case 1:
		return task_set_exception_ports(target, mask, port, behavior, flavor);
	case 2:
		return host_set_exception_ports(target, mask, port, behavior, flavor);
	}
	return KERN_INVALID_ARGUMENT;
}

static kern_return_t excport_allocate(mach_port_t *name) {
	return mach_port_allocate(mach_task_self(), MACH_PORT_RIGHT_RECEIVE, name);
}

static kern_return_t excport_insert_send(mach_port_t name) {
	return mach_port_insert_right(mach_task_self(), name, name, MACH_MSG_TYPE_MAKE_SEND);
}

static kern_return_t excport_deallocate(mach_port_t name) {
	return mach_port_deallocate(mach_task_self(), name);
}

static kern_return_t excport_destroy_receive(mach_port_t name) {
	return mach_port_mod_refs(mach_task_self(), name, MACH_PORT_RIGHT_RECEIVE, -1);
}

static kern_return_t excport_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static mach_msg_return_t excport_receive(void *buf, mach_msg_size_t size,
		mach_port_t port, int use_timeout, mach_msg_timeout_t ms) {
	mach_msg_option_t options = MACH_RCV_MSG;
	if (use_timeout) {
		options |= MACH_RCV_TIMEOUT;
	}
	return mach_msg((mach_msg_header_t *)buf, options, 0, size, port, ms, MACH_PORT_NULL);
}

static mach_msg_return_t excport_send(void *buf) {
	mach_msg_header_t *hdr = (mach_msg_header_t *)buf;
	return mach_msg(hdr, MACH_SEND_MSG | MACH_SEND_TIMEOUT, hdr->msgh_size, 0,
		MACH_PORT_NULL, 0, MACH_PORT_NULL);
}

static void excport_destroy_message(void *buf) {
	mach_msg_destroy((mach_msg_header_t *)buf);
}
*/
import "C"

import (
	"time"
	"unsafe"
)

const (
	scopeThread = 0
	scopeTask   = 1
	scopeHost   = 2
)

// System returns the running kernel.
func System() Kernel { return systemKernel{} }

type systemKernel struct{}

func (systemKernel) TaskSelf() Port { return Port(C.excport_task_self()) }

func (systemKernel) ThreadSelf() (Port, error) { return Port(C.mach_thread_self()), nil }

func (systemKernel) HostSelf() (Port, error) { return Port(C.mach_host_self()), nil }

func (systemKernel) TaskForPID(pid int) (Port, error) {
	var task C.mach_port_t
	if kr := KernReturn(C.excport_task_for_pid(C.int(pid), &task)); kr != KernSuccess {
		return PortNull, kr
	}
	return Port(task), nil
}

func getExceptionPorts(scope int, target Port, mask ExceptionMask) (ExceptionPortsInfo, error) {
	var (
		masks     [ExcTypesCount]uint32
		ports     [ExcTypesCount]uint32
		behaviors [ExcTypesCount]int32
		flavors   [ExcTypesCount]int32
		count     = C.mach_msg_type_number_t(ExcTypesCount)
	)
	kr := KernReturn(C.excport_get(C.int(scope), C.mach_port_t(target), C.exception_mask_t(mask),
		(*C.exception_mask_t)(unsafe.Pointer(&masks[0])), &count,
		(*C.mach_port_t)(unsafe.Pointer(&ports[0])),
		(*C.exception_behavior_t)(unsafe.Pointer(&behaviors[0])),
		(*C.thread_state_flavor_t)(unsafe.Pointer(&flavors[0]))))
	if kr != KernSuccess {
		return ExceptionPortsInfo{}, kr
	}
	n := int(count)
	info := ExceptionPortsInfo{
		Masks:     make([]ExceptionMask, n),
		Ports:     make([]Port, n),
		Behaviors: make([]Behavior, n),
		Flavors:   make([]Flavor, n),
	}
	for i := 0; i < n; i++ {
		info.Masks[i] = ExceptionMask(masks[i])
		info.Ports[i] = Port(ports[i])
		info.Behaviors[i] = Behavior(behaviors[i])
		info.Flavors[i] = Flavor(flavors[i])
	}
	return info, nil
}

func setExceptionPorts(scope int, target Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error {
	kr := KernReturn(C.excport_set(C.int(scope), C.mach_port_t(target), C.exception_mask_t(mask),
		C.mach_port_t(port), C.exception_behavior_t(behavior), C.thread_state_flavor_t(flavor)))
	return kr.Err()
}

func (systemKernel) TaskGetExceptionPorts(task Port, mask ExceptionMask) (ExceptionPortsInfo, error) {
	return getExceptionPorts(scopeTask, task, mask)
}

func (systemKernel) ThreadGetExceptionPorts(thread Port, mask ExceptionMask) (ExceptionPortsInfo, error) {
	return getExceptionPorts(scopeThread, thread, mask)
}

func (systemKernel) HostGetExceptionPorts(host Port, mask ExceptionMask) (ExceptionPortsInfo, error) {
	return getExceptionPorts(scopeHost, host, mask)
}

func (systemKernel) TaskSetExceptionPorts(task Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error {
	return setExceptionPorts(scopeTask, task, mask, port, behavior, flavor)
}

func (systemKernel) ThreadSetExceptionPorts(thread Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error {
	return setExceptionPorts(scopeThread, thread, mask, port, behavior, flavor)
}

func (systemKernel) HostSetExceptionPorts(host Port, mask ExceptionMask, port Port, behavior Behavior, flavor Flavor) error {
	return setExceptionPorts(scopeHost, host, mask, port, behavior, flavor)
}

func (systemKernel) AllocateReceivePort() (Port, error) {
	var name C.mach_port_t
	if kr := KernReturn(C.excport_allocate(&name)); kr != KernSuccess {
		return PortNull, kr
	}
	return Port(name), nil
}

func (systemKernel) InsertSendRight(name Port) error {
	return KernReturn(C.excport_insert_send(C.mach_port_t(name))).Err()
}

func (systemKernel) DeallocatePort(name Port) error {
	return KernReturn(C.excport_deallocate(C.mach_port_t(name))).Err()
}

func (systemKernel) DestroyReceiveRight(name Port) error {
	return KernReturn(C.excport_destroy_receive(C.mach_port_t(name))).Err()
}

func (systemKernel) Receive(port Port, buf []byte, timeout time.Duration) (int, error) {
	if len(buf) < HeaderSize {
		return 0, MachRcvTooLarge
	}
	useTimeout := C.int(0)
	var ms C.mach_msg_timeout_t
	switch {
	case timeout < 0:
		useTimeout = 1
	case timeout > 0:
		useTimeout = 1
		ms = C.mach_msg_timeout_t((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	kr := KernReturn(C.excport_receive(unsafe.Pointer(&buf[0]), C.mach_msg_size_t(len(buf)),
		C.mach_port_t(port), useTimeout, ms))
	if kr != KernSuccess {
		return 0, kr
	}
	h, _ := ParseHeader(buf)
	return int(h.Size), nil
}

func (systemKernel) Send(msg []byte) error {
	if len(msg) < HeaderSize {
		return MachSendInvalidDest
	}
	return KernReturn(C.excport_send(unsafe.Pointer(&msg[0]))).Err()
}

func (systemKernel) DestroyMessage(msg []byte) {
	if len(msg) < HeaderSize {
		return
	}
	C.excport_destroy_message(unsafe.Pointer(&msg[0]))
}
