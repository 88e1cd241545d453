package machtest

import (
	"excport/internal/excmsg"
	"excport/internal/mach"
)

// holds reports whether o carries the right a disposition needs.
func holds(o *object, disposition uint32) bool {
	switch disposition {
	case mach.MsgTypeCopySend, mach.MsgTypeMoveSend:
		return o.send > 0
	case mach.MsgTypeMakeSend, mach.MsgTypeMakeSendOnce:
		return o.receive
	case mach.MsgTypeMoveSendOnce:
		return o.sendOnce > 0
	}
	return false
}

// transfer moves or copies one right on o into the receiving space, which
// here is the same space, and returns the disposition the receiver sees.
func (k *Kernel) transfer(o *object, disposition uint32) uint32 {
	switch disposition {
	case mach.MsgTypeCopySend, mach.MsgTypeMakeSend:
		o.send++
	case mach.MsgTypeMakeSendOnce:
		o.sendOnce++
	}
	k.insert(o)
	if disposition == mach.MsgTypeMakeSendOnce || disposition == mach.MsgTypeMoveSendOnce {
		return mach.MsgTypeMoveSendOnce
	}
	return mach.MsgTypeMoveSend
}

// Send queues msg on the port its header names. Rights in the header and
// in port descriptors are checked before anything is moved, so a failed
// send has no side effects.
func (k *Kernel) Send(msg []byte) error {
	h, ok := mach.ParseHeader(msg)
	if !ok || h.Size < mach.HeaderSize || int(h.Size) > len(msg) {
		return mach.MachSendMsgTooSmall
	}
	msg = msg[:h.Size]

	k.mu.Lock()
	defer k.mu.Unlock()

	remote := mach.MsghBitsRemote(h.Bits)
	dest, ok := k.names[h.RemotePort]
	if !ok || !holds(dest, remote) || !dest.alive() {
		return mach.MachSendInvalidDest
	}

	local := mach.MsghBitsLocal(h.Bits)
	var reply *object
	if h.LocalPort != mach.PortNull {
		reply, ok = k.names[h.LocalPort]
		if !ok || !holds(reply, local) {
			return mach.MachSendInvalidReply
		}
	}

	names, dispositions := excmsg.Descriptors(msg)
	carried := make([]*object, len(names))
	for i, name := range names {
		if name == mach.PortNull {
			continue
		}
		o, ok := k.names[name]
		if !ok || !holds(o, dispositions[i]) {
			return mach.MachSendInvalidRight
		}
		carried[i] = o
	}

	if len(dest.queue) == cap(dest.queue) {
		return mach.MachSendTimedOut
	}

	switch remote {
	case mach.MsgTypeMoveSend:
		dest.send--
	case mach.MsgTypeMoveSendOnce:
		dest.sendOnce--
	}
	k.gc(dest)

	out := append([]byte(nil), msg...)
	var replyName mach.Port
	var replyBits uint32
	if reply != nil {
		replyBits = k.transfer(reply, local)
		replyName = reply.name
	}
	for i, o := range carried {
		if o == nil {
			continue
		}
		excmsg.SetDescriptorName(out, i, o.name, k.transfer(o, dispositions[i]))
	}
	mach.Header{
		Bits:       h.Bits&mach.MsghBitsComplex | mach.MsghBits(replyBits, mach.MsgTypeMoveSend),
		Size:       h.Size,
		RemotePort: replyName,
		LocalPort:  dest.name,
		ID:         h.ID,
	}.Put(out)
	dest.queue <- out
	return nil
}
