// Package excmsg encodes and decodes the exc and mach_exc MIG messages the
// kernel sends to an exception port, and the replies it expects back.
package excmsg

import (
	"fmt"

	"github.com/google/uuid"

	"excport/internal/mach"
)

// Request is one decoded exception notification. Every wire variant decodes
// into the same shape; fields a variant does not carry are left zero.
type Request struct {
	// ID correlates log lines for one notification. It is not on the wire.
	ID uuid.UUID

	MsgID     int32
	ReplyPort mach.Port
	// ReplyBits is the disposition of ReplyPort as received; the reply
	// header reuses it.
	ReplyBits uint32

	Behavior      mach.Behavior
	ExceptionPort mach.Port
	// Thread and Task are send rights carried by Default and StateIdentity
	// notifications. A Server releases them once the catcher returns.
	Thread mach.Port
	Task   mach.Port

	Exception mach.ExceptionType
	// Codes holds zero to two codes, widened to 64 bits regardless of the
	// width used on the wire.
	Codes []int64

	Flavor   mach.Flavor
	OldState []uint32
	// NewState is the replacement thread state a catcher may fill in. Its
	// capacity is mach.ThreadStateMax.
	NewState []uint32
	// NoStateReply, set by a catcher, keeps NewState out of the reply even
	// for a state-carrying behavior.
	NoStateReply bool
}

// HasIdentity reports whether the notification carries thread and task
// rights.
func (r *Request) HasIdentity() bool {
	base := r.Behavior.Base()
	return base == mach.BehaviorDefault || base == mach.BehaviorStateIdentity
}

// Code returns codes[i], or 0 when the notification carried fewer codes.
func (r *Request) Code(i int) int64 {
	if i < 0 || i >= len(r.Codes) {
		return 0
	}
	return r.Codes[i]
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s codes=%#x behavior=%s", r.ID, r.Exception, r.Codes, r.Behavior)
}
