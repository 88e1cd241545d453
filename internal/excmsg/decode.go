package excmsg

import (
	"fmt"

	"github.com/google/uuid"

	"excport/internal/mach"
)

// Decode parses a received notification. The variant comes from the message
// id; msgh_size must then match the exact size implied by the variant, the
// code count and the state count. Nothing is coerced.
func Decode(msg []byte) (*Request, error) {
	h, ok := mach.ParseHeader(msg)
	if !ok {
		return nil, decodeError(ErrMalformedMessage, "message shorter than a header",
			map[string]any{"length": len(msg)})
	}
	v, ok := variants[h.ID]
	if !ok {
		return nil, decodeError(ErrUnknownMessageID, fmt.Sprintf("unknown message id %d", h.ID),
			map[string]any{"msg_id": h.ID})
	}
	size := int(h.Size)
	ctx := map[string]any{"msg_id": h.ID, "size": size}
	if size > len(msg) {
		return nil, decodeError(ErrMalformedMessage, "msgh_size exceeds the received bytes", ctx)
	}
	msg = msg[:size]

	req := &Request{
		ID:            uuid.New(),
		MsgID:         h.ID,
		ReplyPort:     h.RemotePort,
		ReplyBits:     mach.MsghBitsRemote(h.Bits),
		Behavior:      v.behavior,
		ExceptionPort: h.LocalPort,
	}

	if v.identity() {
		if !h.Complex() {
			return nil, decodeError(ErrMalformedMessage, "identity notification is not complex", ctx)
		}
		if size < identityPrefix {
			return nil, decodeError(ErrMalformedMessage, "message too short for its descriptors", ctx)
		}
		if n := mach.ByteOrder.Uint32(msg[mach.HeaderSize:]); n != 2 {
			ctx["descriptors"] = n
			return nil, decodeError(ErrMalformedMessage, "expected two port descriptors", ctx)
		}
		thread := readDescriptor(msg[mach.HeaderSize+bodySize:])
		task := readDescriptor(msg[mach.HeaderSize+bodySize+descriptorSize:])
		if thread.kind != mach.MsgPortDescriptor || task.kind != mach.MsgPortDescriptor {
			return nil, decodeError(ErrMalformedMessage, "descriptor is not a port descriptor", ctx)
		}
		req.Thread, req.Task = thread.name, task.name
	} else if h.Complex() {
		return nil, decodeError(ErrMalformedMessage, "state notification must not be complex", ctx)
	}

	off := v.prefix() + ndrSize
	if off+8 > size {
		return nil, decodeError(ErrMalformedMessage, "message too short for exception and code count", ctx)
	}
	req.Exception = mach.ExceptionType(int32(mach.ByteOrder.Uint32(msg[off:])))
	codeCnt := mach.ByteOrder.Uint32(msg[off+4:])
	if codeCnt > maxCodes {
		ctx["code_count"] = codeCnt
		return nil, decodeError(ErrMalformedMessage, "too many exception codes", ctx)
	}
	off += 8

	codesEnd := off + int(codeCnt)*v.codeWidth
	want := codesEnd
	if v.state() {
		want = codesEnd + 8
	}
	if v.state() && want > size || !v.state() && want != size {
		ctx["expected_size"] = want
		return nil, decodeError(ErrMalformedMessage, "size does not match the code count", ctx)
	}

	req.Codes = make([]int64, codeCnt)
	for i := range req.Codes {
		if v.codeWidth == 8 {
			req.Codes[i] = int64(mach.ByteOrder.Uint64(msg[off:]))
		} else {
			req.Codes[i] = int64(int32(mach.ByteOrder.Uint32(msg[off:])))
		}
		off += v.codeWidth
	}

	if !v.state() {
		req.Flavor = mach.ThreadStateNone
		return req, nil
	}

	req.Flavor = mach.Flavor(int32(mach.ByteOrder.Uint32(msg[off:])))
	stateCnt := mach.ByteOrder.Uint32(msg[off+4:])
	if stateCnt > mach.ThreadStateMax {
		ctx["state_count"] = stateCnt
		return nil, decodeError(ErrMalformedMessage, "thread state count exceeds THREAD_STATE_MAX", ctx)
	}
	off += 8
	if want := off + 4*int(stateCnt); want != size {
		ctx["expected_size"] = want
		return nil, decodeError(ErrMalformedMessage, "size does not match the state count", ctx)
	}
	req.OldState = make([]uint32, stateCnt)
	for i := range req.OldState {
		req.OldState[i] = mach.ByteOrder.Uint32(msg[off:])
		off += 4
	}
	req.NewState = make([]uint32, 0, mach.ThreadStateMax)
	return req, nil
}

// Reply is a decoded reply, as the kernel sees it.
type Reply struct {
	MsgID    int32
	RetCode  mach.KernReturn
	HasState bool
	Flavor   mach.Flavor
	NewState []uint32
}

// DecodeReply parses a reply to a notification.
func DecodeReply(msg []byte) (*Reply, error) {
	h, ok := mach.ParseHeader(msg)
	if !ok {
		return nil, decodeError(ErrMalformedMessage, "reply shorter than a header",
			map[string]any{"length": len(msg)})
	}
	v, ok := variants[h.ID-ReplyIDOffset]
	if !ok {
		return nil, decodeError(ErrUnknownMessageID, fmt.Sprintf("unknown reply id %d", h.ID),
			map[string]any{"msg_id": h.ID})
	}
	size := int(h.Size)
	ctx := map[string]any{"msg_id": h.ID, "size": size}
	if size > len(msg) || size < ShortReplySize {
		return nil, decodeError(ErrMalformedMessage, "bad reply size", ctx)
	}
	r := &Reply{
		MsgID:   h.ID,
		RetCode: mach.KernReturn(int32(mach.ByteOrder.Uint32(msg[mach.HeaderSize+ndrSize:]))),
	}
	if size == ShortReplySize {
		return r, nil
	}
	if !v.state() || size < stateReplyFixed {
		return nil, decodeError(ErrMalformedMessage, "bad reply size", ctx)
	}
	r.HasState = true
	r.Flavor = mach.Flavor(int32(mach.ByteOrder.Uint32(msg[ShortReplySize:])))
	n := mach.ByteOrder.Uint32(msg[ShortReplySize+4:])
	if n > mach.ThreadStateMax || stateReplyFixed+4*int(n) != size {
		ctx["state_count"] = n
		return nil, decodeError(ErrMalformedMessage, "reply size does not match the state count", ctx)
	}
	r.NewState = make([]uint32, n)
	for i := range r.NewState {
		r.NewState[i] = mach.ByteOrder.Uint32(msg[stateReplyFixed+4*i:])
	}
	return r, nil
}
