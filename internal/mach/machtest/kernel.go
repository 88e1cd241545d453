// Package machtest provides an in-memory Mach kernel for tests.
//
// It models a single IPC space: port names with send, send-once and receive
// rights counted the way the kernel counts user references, exception
// handler tables for tasks, threads and the host, bounded message queues,
// and the kernel's thread, task, host exception triage (see Raise).
package machtest

import (
	"os"
	"sync"
	"time"

	"excport/internal/excmsg"
	"excport/internal/mach"
)

const queueLimit = 64

type objectKind int

const (
	kindPort objectKind = iota
	kindTask
	kindThread
	kindHost
)

type handler struct {
	port     *object
	behavior mach.Behavior
	flavor   mach.Flavor
}

type object struct {
	name mach.Port
	kind objectKind

	receive  bool
	send     int
	sendOnce int

	queue chan []byte
	dead  chan struct{}
	// kernelOwned marks a reply port whose receive right the simulated
	// kernel holds outside the space.
	kernelOwned bool

	handlers [mach.ExcTypesCount]handler
	task     *object
	state    []uint32
}

func (o *object) alive() bool {
	if o.kind != kindPort {
		return false
	}
	select {
	case <-o.dead:
		return false
	default:
	}
	return o.receive || o.kernelOwned
}

// Kernel implements mach.Kernel in memory. The zero value is not usable;
// call New.
type Kernel struct {
	mu         sync.Mutex
	next       mach.Port
	names      map[mach.Port]*object
	pids       map[int]*object
	privileged bool

	self    *object
	current *object
	host    *object
}

var _ mach.Kernel = (*Kernel)(nil)

// New returns a kernel holding the calling task, its main thread and the
// host. The caller is unprivileged until SetPrivileged.
func New() *Kernel {
	k := &Kernel{
		next:  0x103,
		names: make(map[mach.Port]*object),
		pids:  make(map[int]*object),
	}
	k.self = k.newObject(kindTask)
	// mach_task_self() is never released by its users.
	k.self.send = 1 << 20
	k.insert(k.self)
	k.pids[os.Getpid()] = k.self

	k.current = k.newThreadLocked(k.self)
	k.current.send = 1
	k.insert(k.current)

	k.host = k.newObject(kindHost)
	return k
}

func (k *Kernel) newObject(kind objectKind) *object {
	o := &object{name: k.next, kind: kind}
	k.next += 0x100
	if kind == kindPort {
		o.queue = make(chan []byte, queueLimit)
		o.dead = make(chan struct{})
	}
	return o
}

func (k *Kernel) newThreadLocked(task *object) *object {
	th := k.newObject(kindThread)
	th.task = task
	th.state = make([]uint32, mach.MachineThreadStateCount)
	for i := range th.state {
		th.state[i] = uint32(i)
	}
	return th
}

func (k *Kernel) insert(o *object) { k.names[o.name] = o }

// gc drops a name once no right remains on it.
func (k *Kernel) gc(o *object) {
	if !o.receive && o.send == 0 && o.sendOnce == 0 {
		delete(k.names, o.name)
	}
}

// copyoutSend gives the space one more send reference on o.
func (k *Kernel) copyoutSend(o *object) mach.Port {
	o.send++
	k.insert(o)
	return o.name
}

// releaseSendOnce drops one send-once reference. When the last one on a
// kernel reply port goes without a reply, the kernel is told, as a
// send-once notification would.
func (k *Kernel) releaseSendOnce(o *object) {
	o.sendOnce--
	if o.kernelOwned && o.sendOnce == 0 {
		select {
		case o.queue <- nil:
		default:
		}
	}
	k.gc(o)
}

// SetPrivileged switches between root and ordinary-user behavior for host
// calls and task_for_pid.
func (k *Kernel) SetPrivileged(privileged bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.privileged = privileged
}

// NewThread creates a thread in task and returns an owned send right to it.
func (k *Kernel) NewThread(task mach.Port) (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.target(task, kindTask)
	if err != nil {
		return mach.PortNull, err
	}
	return k.copyoutSend(k.newThreadLocked(t)), nil
}

// NewTask creates another task with pid and one thread, returning owned
// send rights to both.
func (k *Kernel) NewTask(pid int) (task, thread mach.Port) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.newObject(kindTask)
	k.pids[pid] = t
	th := k.newThreadLocked(t)
	return k.copyoutSend(t), k.copyoutSend(th)
}

// SetCurrentThread makes ThreadSelf return thread.
func (k *Kernel) SetCurrentThread(thread mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	th, err := k.target(thread, kindThread)
	if err != nil {
		return err
	}
	k.current = th
	return nil
}

// Refs describes the rights the space holds on one name.
type Refs struct {
	Present  bool
	Receive  bool
	Send     int
	SendOnce int
}

// Refs reports the rights held on name.
func (k *Kernel) Refs(name mach.Port) Refs {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, ok := k.names[name]
	if !ok {
		return Refs{}
	}
	return Refs{Present: true, Receive: o.receive, Send: o.send, SendOnce: o.sendOnce}
}

// ThreadState returns a copy of the thread's machine state.
func (k *Kernel) ThreadState(thread mach.Port) []uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, ok := k.names[thread]
	if !ok || o.kind != kindThread {
		return nil
	}
	return append([]uint32(nil), o.state...)
}

func (k *Kernel) target(name mach.Port, kind objectKind) (*object, error) {
	o, ok := k.names[name]
	if !ok || o.kind != kind || o.send == 0 {
		return nil, mach.KernInvalidArgument
	}
	if kind == kindHost && !k.privileged {
		return nil, mach.KernInvalidArgument
	}
	return o, nil
}

func (k *Kernel) TaskSelf() mach.Port { return k.self.name }

func (k *Kernel) ThreadSelf() (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.copyoutSend(k.current), nil
}

func (k *Kernel) HostSelf() (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.copyoutSend(k.host), nil
}

func (k *Kernel) TaskForPID(pid int) (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.pids[pid]
	if !ok || (t != k.self && !k.privileged) {
		return mach.PortNull, mach.KernFailure
	}
	return k.copyoutSend(t), nil
}

func (k *Kernel) getExceptionPorts(name mach.Port, kind objectKind, mask mach.ExceptionMask) (mach.ExceptionPortsInfo, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.target(name, kind)
	if err != nil {
		return mach.ExceptionPortsInfo{}, err
	}
	if mask&^mach.MaskValid != 0 {
		return mach.ExceptionPortsInfo{}, mach.KernInvalidArgument
	}

	// Coalesce the way the kernel does: one entry per distinct
	// (port, behavior, flavor), null ports included.
	var info mach.ExceptionPortsInfo
	var owners []*object
	for _, e := range mask.Types() {
		h := t.handlers[e]
		j := 0
		for ; j < len(owners); j++ {
			if owners[j] == h.port && info.Behaviors[j] == h.behavior && info.Flavors[j] == h.flavor {
				info.Masks[j] |= e.Mask()
				break
			}
		}
		if j < len(owners) {
			continue
		}
		port := mach.PortNull
		if h.port != nil {
			port = k.copyoutSend(h.port)
		}
		owners = append(owners, h.port)
		info.Masks = append(info.Masks, e.Mask())
		info.Ports = append(info.Ports, port)
		info.Behaviors = append(info.Behaviors, h.behavior)
		info.Flavors = append(info.Flavors, h.flavor)
	}
	return info, nil
}

func (k *Kernel) setExceptionPorts(name mach.Port, kind objectKind, mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.target(name, kind)
	if err != nil {
		return err
	}
	if mask&^mach.MaskValid != 0 || !behavior.Valid() {
		return mach.KernInvalidArgument
	}
	if flavor != mach.ThreadStateNone && flavor != mach.MachineThreadState {
		return mach.KernInvalidArgument
	}
	var p *object
	if port != mach.PortNull {
		o, ok := k.names[port]
		if !ok || o.kind != kindPort || o.send == 0 {
			return mach.KernInvalidCapability
		}
		p = o
	}
	for _, e := range mask.Types() {
		t.handlers[e] = handler{port: p, behavior: behavior, flavor: flavor}
	}
	return nil
}

func (k *Kernel) TaskGetExceptionPorts(task mach.Port, mask mach.ExceptionMask) (mach.ExceptionPortsInfo, error) {
	return k.getExceptionPorts(task, kindTask, mask)
}

func (k *Kernel) ThreadGetExceptionPorts(thread mach.Port, mask mach.ExceptionMask) (mach.ExceptionPortsInfo, error) {
	return k.getExceptionPorts(thread, kindThread, mask)
}

func (k *Kernel) HostGetExceptionPorts(host mach.Port, mask mach.ExceptionMask) (mach.ExceptionPortsInfo, error) {
	return k.getExceptionPorts(host, kindHost, mask)
}

func (k *Kernel) TaskSetExceptionPorts(task mach.Port, mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	return k.setExceptionPorts(task, kindTask, mask, port, behavior, flavor)
}

func (k *Kernel) ThreadSetExceptionPorts(thread mach.Port, mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	return k.setExceptionPorts(thread, kindThread, mask, port, behavior, flavor)
}

func (k *Kernel) HostSetExceptionPorts(host mach.Port, mask mach.ExceptionMask, port mach.Port, behavior mach.Behavior, flavor mach.Flavor) error {
	return k.setExceptionPorts(host, kindHost, mask, port, behavior, flavor)
}

func (k *Kernel) AllocateReceivePort() (mach.Port, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	o := k.newObject(kindPort)
	o.receive = true
	k.insert(o)
	return o.name, nil
}

func (k *Kernel) InsertSendRight(name mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, ok := k.names[name]
	if !ok {
		return mach.KernInvalidName
	}
	if !o.receive {
		return mach.KernInvalidRight
	}
	o.send++
	return nil
}

func (k *Kernel) DeallocatePort(name mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, ok := k.names[name]
	if !ok {
		return mach.KernInvalidName
	}
	switch {
	case o.send > 0:
		o.send--
		k.gc(o)
	case o.sendOnce > 0:
		k.releaseSendOnce(o)
	default:
		return mach.KernInvalidRight
	}
	return nil
}

func (k *Kernel) DestroyReceiveRight(name mach.Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, ok := k.names[name]
	if !ok {
		return mach.KernInvalidName
	}
	if !o.receive {
		return mach.KernInvalidRight
	}
	o.receive = false
	close(o.dead)
	for drained := false; !drained; {
		select {
		case msg := <-o.queue:
			k.destroyLocked(msg)
		default:
			drained = true
		}
	}
	k.gc(o)
	return nil
}

func (k *Kernel) Receive(port mach.Port, buf []byte, timeout time.Duration) (int, error) {
	k.mu.Lock()
	o, ok := k.names[port]
	if !ok || !o.receive {
		k.mu.Unlock()
		return 0, mach.MachRcvInvalidName
	}
	queue, dead := o.queue, o.dead
	k.mu.Unlock()

	var msg []byte
	switch {
	case timeout < 0:
		select {
		case msg = <-queue:
		case <-dead:
			return 0, mach.MachRcvPortDied
		default:
			return 0, mach.MachRcvTimedOut
		}
	default:
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case msg = <-queue:
		case <-dead:
			return 0, mach.MachRcvPortDied
		case <-expired:
			return 0, mach.MachRcvTimedOut
		}
	}

	if len(msg) > len(buf) {
		k.DestroyMessage(msg)
		return 0, mach.MachRcvTooLarge
	}
	return copy(buf, msg), nil
}

func (k *Kernel) DestroyMessage(msg []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.destroyLocked(msg)
}

// destroyLocked releases the rights a received message carries: its reply
// right and any port descriptors.
func (k *Kernel) destroyLocked(msg []byte) {
	h, ok := mach.ParseHeader(msg)
	if !ok {
		return
	}
	if o, ok := k.names[h.RemotePort]; ok && h.RemotePort != mach.PortNull {
		switch mach.MsghBitsRemote(h.Bits) {
		case mach.MsgTypeMoveSendOnce:
			if o.sendOnce > 0 {
				k.releaseSendOnce(o)
			}
		case mach.MsgTypeMoveSend:
			if o.send > 0 {
				o.send--
				k.gc(o)
			}
		}
	}
	names, _ := excmsg.Descriptors(msg)
	for _, name := range names {
		if o, ok := k.names[name]; ok && o.send > 0 {
			o.send--
			k.gc(o)
		}
	}
}
