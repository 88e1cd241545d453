package machtest

import (
	"context"

	"excport/internal/excmsg"
	"excport/internal/mach"
)

// Scope names the exception table a notification was routed through.
type Scope string

const (
	ScopeThread Scope = "thread"
	ScopeTask   Scope = "task"
	ScopeHost   Scope = "host"
)

// Delivery records one notification sent during triage.
type Delivery struct {
	Scope    Scope
	Port     mach.Port
	Behavior mach.Behavior
	// Result is the handler's RetCode, or the send or reply failure.
	Result mach.KernReturn
	// StateApplied is set when a state reply was written back to the thread.
	StateApplied bool
}

// Outcome is what the kernel did with a raised exception.
type Outcome struct {
	Deliveries []Delivery
	// Result is KERN_SUCCESS when a handler resolved the exception,
	// MACH_RCV_PORT_DIED when a handler stopped the search without
	// resolving it, and KERN_FAILURE when every scope was exhausted.
	Result mach.KernReturn
}

// Scopes lists the scopes that received a notification, in order.
func (o *Outcome) Scopes() []Scope {
	scopes := make([]Scope, 0, len(o.Deliveries))
	for _, d := range o.Deliveries {
		scopes = append(scopes, d.Scope)
	}
	return scopes
}

// Raise delivers an exception the way exception_triage does: the thread's
// handler first, then the task's, then the host's. Each handler's reply
// decides what happens next:
//
//   - KERN_SUCCESS resolves the exception. For a state-carrying behavior the
//     reply's state is written back first; a reply without a usable state
//     makes that write fail and the search continues.
//   - MACH_RCV_PORT_DIED stops the search.
//   - Anything else, including a failed send, moves on to the next scope.
//
// Raise blocks until triage ends or ctx is done.
func (k *Kernel) Raise(ctx context.Context, thread mach.Port, exception mach.ExceptionType, codes ...int64) (*Outcome, error) {
	k.mu.Lock()
	th, ok := k.names[thread]
	if !ok || th.kind != kindThread {
		k.mu.Unlock()
		return nil, mach.KernInvalidArgument
	}
	chain := []struct {
		scope  Scope
		target *object
	}{
		{ScopeThread, th},
		{ScopeTask, th.task},
		{ScopeHost, k.host},
	}
	k.mu.Unlock()

	out := &Outcome{Result: mach.KernFailure}
	for _, link := range chain {
		d, reply, sent, err := k.notify(link.target, th, exception, codes)
		if err != nil {
			return out, err
		}
		if !sent {
			continue
		}
		d.Scope = link.scope
		if d.Result == mach.KernSuccess {
			d.Result, err = k.awaitReply(ctx, reply, th, &d)
			if err != nil {
				return out, err
			}
		}
		out.Deliveries = append(out.Deliveries, d)

		switch {
		case d.Result == mach.KernSuccess && (d.StateApplied || !d.Behavior.IsStateCarrying()):
			out.Result = mach.KernSuccess
			return out, nil
		case d.Result == mach.MachRcvPortDied:
			out.Result = mach.MachRcvPortDied
			return out, nil
		}
	}
	return out, nil
}

// notify sends the exception message for target's handler, if it has one.
// sent reports whether a delivery was attempted.
func (k *Kernel) notify(target, th *object, exception mach.ExceptionType, codes []int64) (d Delivery, reply *object, sent bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if exception <= 0 || exception >= mach.ExcTypesCount {
		return d, nil, false, mach.KernInvalidArgument
	}
	h := target.handlers[exception]
	if h.port == nil {
		return d, nil, false, nil
	}
	d = Delivery{Port: h.port.name, Behavior: h.behavior}

	reply = k.newObject(kindPort)
	reply.kernelOwned = true
	req := &excmsg.Request{
		Behavior:      h.behavior,
		ExceptionPort: h.port.name,
		ReplyPort:     reply.name,
		Thread:        th.name,
		Task:          th.task.name,
		Exception:     exception,
		Codes:         codes,
		Flavor:        h.flavor,
	}
	if h.behavior.IsStateCarrying() {
		req.OldState = append([]uint32(nil), th.state...)
	}
	msg, err := excmsg.EncodeRequest(req)
	if err != nil {
		return d, nil, false, err
	}
	d.Result = k.deliverLocked(h.port, msg, reply, th, th.task)
	return d, reply, true, nil
}

// deliverLocked copies a kernel-originated message out into the space of
// dest's receiver.
func (k *Kernel) deliverLocked(dest *object, msg []byte, reply, thread, task *object) mach.KernReturn {
	if !dest.alive() {
		return mach.MachSendInvalidDest
	}
	if len(dest.queue) == cap(dest.queue) {
		return mach.MachSendTimedOut
	}
	h, _ := mach.ParseHeader(msg)
	if h.Complex() {
		for i, o := range []*object{thread, task} {
			excmsg.SetDescriptorName(msg, i, k.copyoutSend(o), mach.MsgTypeMoveSend)
		}
	}
	reply.sendOnce++
	k.insert(reply)
	h.RemotePort, h.LocalPort = reply.name, dest.name
	h.Bits = h.Bits&mach.MsghBitsComplex | mach.MsghBits(mach.MsgTypeMoveSendOnce, mach.MsgTypeMoveSend)
	h.Put(msg)
	dest.queue <- msg
	return mach.KernSuccess
}

// awaitReply waits for the handler's reply and applies any returned state.
func (k *Kernel) awaitReply(ctx context.Context, reply, th *object, d *Delivery) (mach.KernReturn, error) {
	var msg []byte
	select {
	case msg = <-reply.queue:
	case <-ctx.Done():
		return mach.KernAborted, ctx.Err()
	}
	if msg == nil {
		// The reply right was destroyed unanswered.
		return mach.MigReplyMismatch, nil
	}
	r, err := excmsg.DecodeReply(msg)
	if err != nil {
		return mach.MigReplyMismatch, nil
	}
	if r.RetCode != mach.KernSuccess || !d.Behavior.IsStateCarrying() {
		return r.RetCode, nil
	}

	// thread_setstatus: the state must be the machine flavor and match the
	// thread's state size.
	k.mu.Lock()
	defer k.mu.Unlock()
	if r.HasState && r.Flavor == mach.MachineThreadState && len(r.NewState) == len(th.state) {
		copy(th.state, r.NewState)
		d.StateApplied = true
	}
	return r.RetCode, nil
}
