// Package catcher defines the callback every exception notification is
// dispatched to, and the reply rule that callback must follow.
package catcher

import (
	"excport/internal/excmsg"
	"excport/internal/mach"
)

// Catcher handles one decoded notification and returns the RetCode for the
// reply. It is called exactly once per notification and must not keep req
// after returning.
//
// Returning mach.MigNoReply suppresses the reply; the catcher then owns
// req.ReplyPort.
type Catcher interface {
	CatchException(req *excmsg.Request) mach.KernReturn
}

// Func adapts a function to Catcher.
type Func func(req *excmsg.Request) mach.KernReturn

func (f Func) CatchException(req *excmsg.Request) mach.KernReturn { return f(req) }

// IsStateCarrying reports whether behavior, ignoring the code width, expects
// a thread state in the reply.
func IsStateCarrying(behavior mach.Behavior) bool {
	return behavior.IsStateCarrying()
}

// SuccessResult is the RetCode for a notification the catcher handled.
//
// Default behavior always gets KERN_SUCCESS. A state-carrying behavior gets
// KERN_SUCCESS only when a new state is supplied; otherwise it gets
// MACH_RCV_PORT_DIED. KERN_SUCCESS without a state makes the kernel write an
// empty state back to the thread, and when that fails it keeps searching
// and hands EXC_CRASH to the host handler. MACH_RCV_PORT_DIED avoids both.
func SuccessResult(behavior mach.Behavior, setState bool) mach.KernReturn {
	if IsStateCarrying(behavior) && !setState {
		return mach.MachRcvPortDied
	}
	return mach.KernSuccess
}

// Resolve applies SuccessResult to req: a catcher that filled req.NewState
// gets it sent back, anything else is answered without a state.
func Resolve(req *excmsg.Request) mach.KernReturn {
	setState := len(req.NewState) > 0 && !req.NoStateReply
	req.NoStateReply = !setState
	return SuccessResult(req.Behavior, setState)
}
