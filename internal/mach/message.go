package mach

import "encoding/binary"

// Port right dispositions (mach_msg_type_name_t).
const (
	MsgTypeMoveReceive  = 16
	MsgTypeMoveSend     = 17
	MsgTypeMoveSendOnce = 18
	MsgTypeCopySend     = 19
	MsgTypeMakeSend     = 20
	MsgTypeMakeSendOnce = 21
)

const (
	// MsghBitsComplex marks a message carrying descriptors.
	MsghBitsComplex uint32 = 0x80000000

	// MsgPortDescriptor is MACH_MSG_PORT_DESCRIPTOR.
	MsgPortDescriptor = 0

	// HeaderSize is sizeof(mach_msg_header_t).
	HeaderSize = 24

	// MaxTrailerSize is sizeof(mach_msg_max_trailer_t), the most the kernel
	// appends after msgh_size on receive.
	MaxTrailerSize = 68
)

// ByteOrder is the byte order of every supported Mach host.
var ByteOrder = binary.LittleEndian

// MsghBits composes msgh_bits from remote and local dispositions.
func MsghBits(remote, local uint32) uint32 { return remote | local<<8 }

// MsghBitsRemote extracts the remote disposition from msgh_bits.
func MsghBitsRemote(bits uint32) uint32 { return bits & 0x1f }

// MsghBitsLocal extracts the local disposition from msgh_bits.
func MsghBitsLocal(bits uint32) uint32 { return (bits >> 8) & 0x1f }

// Header is mach_msg_header_t.
type Header struct {
	Bits       uint32
	Size       uint32
	RemotePort Port
	LocalPort  Port
	Voucher    Port
	ID         int32
}

// Complex reports whether the message carries descriptors.
func (h Header) Complex() bool { return h.Bits&MsghBitsComplex != 0 }

// ParseHeader reads a header from the front of msg.
func ParseHeader(msg []byte) (Header, bool) {
	if len(msg) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Bits:       ByteOrder.Uint32(msg[0:]),
		Size:       ByteOrder.Uint32(msg[4:]),
		RemotePort: Port(ByteOrder.Uint32(msg[8:])),
		LocalPort:  Port(ByteOrder.Uint32(msg[12:])),
		Voucher:    Port(ByteOrder.Uint32(msg[16:])),
		ID:         int32(ByteOrder.Uint32(msg[20:])),
	}, true
}

// Put writes h to the front of msg, which must hold HeaderSize bytes.
func (h Header) Put(msg []byte) {
	ByteOrder.PutUint32(msg[0:], h.Bits)
	ByteOrder.PutUint32(msg[4:], h.Size)
	ByteOrder.PutUint32(msg[8:], uint32(h.RemotePort))
	ByteOrder.PutUint32(msg[12:], uint32(h.LocalPort))
	ByteOrder.PutUint32(msg[16:], uint32(h.Voucher))
	ByteOrder.PutUint32(msg[20:], uint32(h.ID))
}
