package excmsg

import "excport/internal/mach"

// Message ids of the exc (32-bit codes) and mach_exc (64-bit codes)
// subsystems. Replies use the request id plus ReplyIDOffset.
const (
	IDExceptionRaise                  int32 = 2401
	IDExceptionRaiseState             int32 = 2402
	IDExceptionRaiseStateIdentity     int32 = 2403
	IDMachExceptionRaise              int32 = 2405
	IDMachExceptionRaiseState         int32 = 2406
	IDMachExceptionRaiseStateIdentity int32 = 2407

	ReplyIDOffset int32 = 100
)

const (
	bodySize       = 4
	descriptorSize = 12
	ndrSize        = 8
	maxCodes       = 2

	// identityPrefix covers header, body and the thread and task descriptors.
	identityPrefix = mach.HeaderSize + bodySize + 2*descriptorSize

	// ShortReplySize is header, NDR and RetCode: the Default reply and the
	// MIG error reply.
	ShortReplySize = mach.HeaderSize + ndrSize + 4

	stateReplyFixed = ShortReplySize + 8

	// MaxRequestSize bounds every request variant, trailer excluded.
	MaxRequestSize = identityPrefix + ndrSize + 8 + maxCodes*8 + 8 + 4*mach.ThreadStateMax

	// ReceiveBufferSize is enough for any request plus the largest trailer.
	ReceiveBufferSize = MaxRequestSize + mach.MaxTrailerSize
)

// ndrRecord is NDR_record for a little-endian host.
var ndrRecord = [ndrSize]byte{0, 0, 0, 0, 1, 0, 0, 0}

// variant describes how one message id is laid out.
type variant struct {
	behavior  mach.Behavior
	codeWidth int
}

func (v variant) identity() bool {
	return v.behavior.Base() == mach.BehaviorDefault || v.behavior.Base() == mach.BehaviorStateIdentity
}

func (v variant) state() bool { return v.behavior.IsStateCarrying() }

// prefix is the offset of the NDR record.
func (v variant) prefix() int {
	if v.identity() {
		return identityPrefix
	}
	return mach.HeaderSize
}

var variants = map[int32]variant{
	IDExceptionRaise:                  {mach.BehaviorDefault, 4},
	IDExceptionRaiseState:             {mach.BehaviorState, 4},
	IDExceptionRaiseStateIdentity:     {mach.BehaviorStateIdentity, 4},
	IDMachExceptionRaise:              {mach.BehaviorDefault | mach.MachExceptionCodes, 8},
	IDMachExceptionRaiseState:         {mach.BehaviorState | mach.MachExceptionCodes, 8},
	IDMachExceptionRaiseStateIdentity: {mach.BehaviorStateIdentity | mach.MachExceptionCodes, 8},
}

// RequestID returns the message id the kernel uses for behavior.
func RequestID(behavior mach.Behavior) (int32, bool) {
	for id, v := range variants {
		if v.behavior == behavior {
			return id, true
		}
	}
	return 0, false
}

// portDescriptor is mach_msg_port_descriptor_t.
type portDescriptor struct {
	name        mach.Port
	disposition uint32
	kind        uint32
}

func readDescriptor(b []byte) portDescriptor {
	word := mach.ByteOrder.Uint32(b[8:])
	return portDescriptor{
		name:        mach.Port(mach.ByteOrder.Uint32(b[0:])),
		disposition: (word >> 16) & 0xff,
		kind:        word >> 24,
	}
}

func (d portDescriptor) put(b []byte) {
	mach.ByteOrder.PutUint32(b[0:], uint32(d.name))
	mach.ByteOrder.PutUint32(b[4:], 0)
	mach.ByteOrder.PutUint32(b[8:], d.disposition<<16|d.kind<<24)
}

// Descriptors returns the port names and dispositions carried by a complex
// message. It returns nil for a simple or truncated message.
func Descriptors(msg []byte) (names []mach.Port, dispositions []uint32) {
	h, ok := mach.ParseHeader(msg)
	if !ok || !h.Complex() || len(msg) < mach.HeaderSize+bodySize {
		return nil, nil
	}
	count := int(mach.ByteOrder.Uint32(msg[mach.HeaderSize:]))
	off := mach.HeaderSize + bodySize
	for i := 0; i < count && off+descriptorSize <= len(msg); i++ {
		d := readDescriptor(msg[off:])
		if d.kind == mach.MsgPortDescriptor {
			names = append(names, d.name)
			dispositions = append(dispositions, d.disposition)
		}
		off += descriptorSize
	}
	return names, dispositions
}

// SetDescriptorName rewrites the name and disposition of descriptor i in
// place.
func SetDescriptorName(msg []byte, i int, name mach.Port, disposition uint32) {
	off := mach.HeaderSize + bodySize + i*descriptorSize
	if off+descriptorSize > len(msg) {
		return
	}
	d := readDescriptor(msg[off:])
	d.name = name
	d.disposition = disposition
	d.put(msg[off:])
}
