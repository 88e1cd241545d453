package excmsg

import (
	"fmt"

	"excport/internal/mach"
)

// EncodeReply builds the reply for req after a catcher returned result.
//
// A state-carrying request answered with KERN_SUCCESS and without
// NoStateReply gets the long reply carrying NewState. Everything else,
// including every Default reply, gets the short header+NDR+RetCode form.
func EncodeReply(req *Request, result mach.KernReturn) []byte {
	if !req.Behavior.IsStateCarrying() || result != mach.KernSuccess || req.NoStateReply {
		return shortReply(req.ReplyBits, req.ReplyPort, req.MsgID, result)
	}
	state := req.NewState
	if len(state) > mach.ThreadStateMax {
		state = state[:mach.ThreadStateMax]
	}
	size := stateReplyFixed + 4*len(state)
	b := make([]byte, size)
	putReplyPrefix(b, req.ReplyBits, req.ReplyPort, req.MsgID, size, result)
	mach.ByteOrder.PutUint32(b[ShortReplySize:], uint32(req.Flavor))
	mach.ByteOrder.PutUint32(b[ShortReplySize+4:], uint32(len(state)))
	for i, word := range state {
		mach.ByteOrder.PutUint32(b[stateReplyFixed+4*i:], word)
	}
	return b
}

// EncodeErrorReply builds the short reply for a request that could not be
// decoded. It returns nil when msg has no usable header or no reply port.
func EncodeErrorReply(msg []byte, code mach.KernReturn) []byte {
	h, ok := mach.ParseHeader(msg)
	if !ok || h.RemotePort == mach.PortNull {
		return nil
	}
	return shortReply(mach.MsghBitsRemote(h.Bits), h.RemotePort, h.ID, code)
}

func shortReply(bits uint32, port mach.Port, id int32, result mach.KernReturn) []byte {
	b := make([]byte, ShortReplySize)
	putReplyPrefix(b, bits, port, id, ShortReplySize, result)
	return b
}

func putReplyPrefix(b []byte, bits uint32, port mach.Port, id int32, size int, result mach.KernReturn) {
	mach.Header{
		Bits:       mach.MsghBits(bits, 0),
		Size:       uint32(size),
		RemotePort: port,
		ID:         id + ReplyIDOffset,
	}.Put(b)
	copy(b[mach.HeaderSize:], ndrRecord[:])
	mach.ByteOrder.PutUint32(b[mach.HeaderSize+ndrSize:], uint32(result))
}

// EncodeRequest builds the notification the kernel would send for req, in
// send form: ExceptionPort is the copy-send destination, ReplyPort receives
// a make-send-once right, and Thread and Task travel as copy-send
// descriptors. Codes are truncated to 32 bits unless the behavior carries
// MachExceptionCodes.
func EncodeRequest(req *Request) ([]byte, error) {
	id, ok := RequestID(req.Behavior)
	if !ok {
		return nil, decodeError(ErrInvalidRequest, fmt.Sprintf("no message id for behavior %s", req.Behavior), nil)
	}
	if len(req.Codes) > maxCodes {
		return nil, decodeError(ErrInvalidRequest, "too many exception codes",
			map[string]any{"code_count": len(req.Codes)})
	}
	v := variants[id]
	state := req.OldState
	if !v.state() {
		state = nil
	} else if len(state) > mach.ThreadStateMax {
		return nil, decodeError(ErrInvalidRequest, "thread state exceeds THREAD_STATE_MAX",
			map[string]any{"state_count": len(state)})
	}

	size := v.prefix() + ndrSize + 8 + len(req.Codes)*v.codeWidth
	if v.state() {
		size += 8 + 4*len(state)
	}
	b := make([]byte, size)

	var local uint32
	if req.ReplyPort != mach.PortNull {
		local = mach.MsgTypeMakeSendOnce
	}
	h := mach.Header{
		Bits:       mach.MsghBits(mach.MsgTypeCopySend, local),
		Size:       uint32(size),
		RemotePort: req.ExceptionPort,
		LocalPort:  req.ReplyPort,
		ID:         id,
	}
	if v.identity() {
		h.Bits |= mach.MsghBitsComplex
	}
	h.Put(b)

	if v.identity() {
		mach.ByteOrder.PutUint32(b[mach.HeaderSize:], 2)
		portDescriptor{name: req.Thread, disposition: mach.MsgTypeCopySend, kind: mach.MsgPortDescriptor}.
			put(b[mach.HeaderSize+bodySize:])
		portDescriptor{name: req.Task, disposition: mach.MsgTypeCopySend, kind: mach.MsgPortDescriptor}.
			put(b[mach.HeaderSize+bodySize+descriptorSize:])
	}

	off := v.prefix()
	copy(b[off:], ndrRecord[:])
	off += ndrSize
	mach.ByteOrder.PutUint32(b[off:], uint32(req.Exception))
	mach.ByteOrder.PutUint32(b[off+4:], uint32(len(req.Codes)))
	off += 8
	for _, code := range req.Codes {
		if v.codeWidth == 8 {
			mach.ByteOrder.PutUint64(b[off:], uint64(code))
		} else {
			mach.ByteOrder.PutUint32(b[off:], uint32(int32(code)))
		}
		off += v.codeWidth
	}
	if v.state() {
		mach.ByteOrder.PutUint32(b[off:], uint32(req.Flavor))
		mach.ByteOrder.PutUint32(b[off+4:], uint32(len(state)))
		off += 8
		for _, word := range state {
			mach.ByteOrder.PutUint32(b[off:], word)
			off += 4
		}
	}
	return b, nil
}
