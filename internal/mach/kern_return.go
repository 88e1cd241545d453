package mach

import "fmt"

// KernReturn is kern_return_t (and mach_msg_return_t, which shares the
// space). It implements error so kernel failures flow through errors.Is.
type KernReturn int32

const (
	KernSuccess           KernReturn = 0
	KernInvalidAddress    KernReturn = 1
	KernProtectionFailure KernReturn = 2
	KernNoSpace           KernReturn = 3
	KernInvalidArgument   KernReturn = 4
	KernFailure           KernReturn = 5
	KernResourceShortage  KernReturn = 6
	KernNoAccess          KernReturn = 8
	KernAborted           KernReturn = 14
	KernInvalidName       KernReturn = 15
	KernInvalidTask       KernReturn = 16
	KernInvalidRight      KernReturn = 17
	KernInvalidValue      KernReturn = 18
	KernUrefsOverflow     KernReturn = 19
	KernInvalidCapability KernReturn = 20
	KernInvalidHost       KernReturn = 22
	KernNotSupported      KernReturn = 46
	KernOperationTimedOut KernReturn = 49

	MachSendInvalidDest  KernReturn = 0x10000003
	MachSendTimedOut     KernReturn = 0x10000004
	MachSendInvalidRight KernReturn = 0x10000007
	MachSendMsgTooSmall  KernReturn = 0x10000008
	MachSendInvalidReply KernReturn = 0x10000009
	MachRcvInvalidName   KernReturn = 0x10004002
	MachRcvTimedOut      KernReturn = 0x10004003
	MachRcvTooLarge      KernReturn = 0x10004004
	MachRcvInterrupted   KernReturn = 0x10004005
	MachRcvPortChanged   KernReturn = 0x10004006
	MachRcvPortDied      KernReturn = 0x10004009

	MigTypeError     KernReturn = -300
	MigReplyMismatch KernReturn = -301
	MigRemoteError   KernReturn = -302
	MigBadID         KernReturn = -303
	MigBadArguments  KernReturn = -304
	MigNoReply       KernReturn = -305
)

var kernReturnNames = map[KernReturn]string{
	KernSuccess:           "KERN_SUCCESS",
	KernInvalidAddress:    "KERN_INVALID_ADDRESS",
	KernProtectionFailure: "KERN_PROTECTION_FAILURE",
	KernNoSpace:           "KERN_NO_SPACE",
	KernInvalidArgument:   "KERN_INVALID_ARGUMENT",
	KernFailure:           "KERN_FAILURE",
	KernResourceShortage:  "KERN_RESOURCE_SHORTAGE",
	KernNoAccess:          "KERN_NO_ACCESS",
	KernAborted:           "KERN_ABORTED",
	KernInvalidName:       "KERN_INVALID_NAME",
	KernInvalidTask:       "KERN_INVALID_TASK",
	KernInvalidRight:      "KERN_INVALID_RIGHT",
	KernInvalidValue:      "KERN_INVALID_VALUE",
	KernUrefsOverflow:     "KERN_UREFS_OVERFLOW",
	KernInvalidCapability: "KERN_INVALID_CAPABILITY",
	KernInvalidHost:       "KERN_INVALID_HOST",
	KernNotSupported:      "KERN_NOT_SUPPORTED",
	KernOperationTimedOut: "KERN_OPERATION_TIMED_OUT",
	MachSendInvalidDest:   "MACH_SEND_INVALID_DEST",
	MachSendTimedOut:      "MACH_SEND_TIMED_OUT",
	MachSendInvalidRight:  "MACH_SEND_INVALID_RIGHT",
	MachSendMsgTooSmall:   "MACH_SEND_MSG_TOO_SMALL",
	MachSendInvalidReply:  "MACH_SEND_INVALID_REPLY",
	MachRcvInvalidName:    "MACH_RCV_INVALID_NAME",
	MachRcvTimedOut:       "MACH_RCV_TIMED_OUT",
	MachRcvTooLarge:       "MACH_RCV_TOO_LARGE",
	MachRcvInterrupted:    "MACH_RCV_INTERRUPTED",
	MachRcvPortChanged:    "MACH_RCV_PORT_CHANGED",
	MachRcvPortDied:       "MACH_RCV_PORT_DIED",
	MigTypeError:          "MIG_TYPE_ERROR",
	MigReplyMismatch:      "MIG_REPLY_MISMATCH",
	MigRemoteError:        "MIG_REMOTE_ERROR",
	MigBadID:              "MIG_BAD_ID",
	MigBadArguments:       "MIG_BAD_ARGUMENTS",
	MigNoReply:            "MIG_NO_REPLY",
}

func (kr KernReturn) String() string {
	if name, ok := kernReturnNames[kr]; ok {
		return name
	}
	return fmt.Sprintf("kern_return_t(%#x)", int32(kr))
}

// Error renders kr as "NAME (0xNN)".
func (kr KernReturn) Error() string {
	return fmt.Sprintf("%s (%#x)", kr.String(), uint32(kr))
}

// Err returns nil for KERN_SUCCESS and kr otherwise.
func (kr KernReturn) Err() error {
	if kr == KernSuccess {
		return nil
	}
	return kr
}
