// Package msgserver receives exception notifications on a port, hands each
// to a catcher and sends the reply the kernel is waiting for.
package msgserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"excport/internal/catcher"
	"excport/internal/excmsg"
	"excport/internal/mach"
)

// Options controls one Run.
type Options struct {
	// Persistent keeps serving until an error or the timeout. Otherwise Run
	// returns after exactly one message.
	Persistent bool
	// Nonblocking polls the port instead of waiting. It cannot be combined
	// with Timeout.
	Nonblocking bool
	// Timeout bounds the whole Run. Zero waits forever.
	Timeout time.Duration
}

// Server dispatches exception notifications to Catcher. The thread and task
// rights an identity notification carries are released once the catcher
// returns.
type Server struct {
	Kernel  mach.Kernel
	Catcher catcher.Catcher
	Logger  logr.Logger
	Metrics *Metrics
}

// Run serves port, which the caller must hold a receive right for.
//
// Receive failures return ErrReceive, an expired timeout or an empty poll
// returns ErrTimeout, a message that does not decode is answered with a MIG
// error reply and returns ErrDecode, and a reply that cannot be sent returns
// ErrSend. Nothing is retried.
func (s *Server) Run(port mach.Port, opts Options) error {
	if err := s.validate(opts); err != nil {
		return err
	}
	log := s.Logger.WithValues("port", portString(port))

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}
	buf := make([]byte, excmsg.ReceiveBufferSize)
	for {
		n, err := s.receive(port, buf, opts, deadline)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				log.V(1).Info("no exception message before the deadline")
			} else {
				logServerError(log, err, "receive failed")
			}
			return err
		}
		s.Metrics.received()

		if err := s.handle(log, buf[:n]); err != nil {
			logServerError(log, err, "exception message not handled")
			return err
		}
		if !opts.Persistent {
			return nil
		}
	}
}

func (s *Server) validate(opts Options) error {
	switch {
	case s.Kernel == nil:
		return wrapServerError(ErrConfig, nil, "server has no kernel", nil)
	case s.Catcher == nil:
		return wrapServerError(ErrConfig, nil, "server has no catcher", nil)
	case opts.Timeout < 0:
		return wrapServerError(ErrConfig, nil, "timeout must not be negative",
			map[string]any{"timeout": opts.Timeout.String()})
	case opts.Nonblocking && opts.Timeout > 0:
		return wrapServerError(ErrConfig, nil, "nonblocking and timeout are exclusive", nil)
	}
	return nil
}

func (s *Server) receive(port mach.Port, buf []byte, opts Options, deadline time.Time) (int, error) {
	context := map[string]any{"port": portString(port)}
	var wait time.Duration
	switch {
	case opts.Nonblocking:
		wait = -1
	case !deadline.IsZero():
		wait = time.Until(deadline)
		if wait <= 0 {
			return 0, wrapServerError(ErrTimeout, mach.MachRcvTimedOut, "deadline passed", context)
		}
	}

	n, err := s.Kernel.Receive(port, buf, wait)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, mach.MachRcvTimedOut):
		return 0, wrapServerError(ErrTimeout, err, "no exception message arrived", context)
	default:
		return 0, wrapServerError(ErrReceive, err, "receive failed", context)
	}
}

func (s *Server) handle(log logr.Logger, msg []byte) error {
	req, err := excmsg.Decode(msg)
	if err != nil {
		s.Metrics.decodeFailed()
		return s.reject(log, msg, err)
	}
	log = log.WithValues(
		"id", req.ID.String(),
		"msgID", req.MsgID,
		"exception", req.Exception.String(),
		"behavior", req.Behavior.String(),
	)
	log.V(1).Info("exception message received", "codes", req.Codes)

	start := time.Now()
	result := s.Catcher.CatchException(req)
	s.Metrics.dispatched(time.Since(start))
	s.releaseIdentity(log, req)

	if result == mach.MigNoReply {
		s.Metrics.replied(result)
		log.V(1).Info("catcher kept the reply right")
		return nil
	}

	reply := excmsg.EncodeReply(req, result)
	if err := s.Kernel.Send(reply); err != nil {
		// A failed send leaves the reply right with us.
		s.Kernel.DestroyMessage(reply)
		return wrapServerError(ErrSend, err, "reply send failed", map[string]any{
			"msgID":  req.MsgID,
			"result": result.String(),
		})
	}
	s.Metrics.replied(result)
	log.V(1).Info("reply sent", "result", result.String())
	return nil
}

// reject answers a message that failed to decode with a MIG error reply and
// destroys whatever else it carried.
func (s *Server) reject(log logr.Logger, msg []byte, cause error) error {
	code := excmsg.MigCode(cause)
	h, _ := mach.ParseHeader(msg)
	context := map[string]any{"msgID": h.ID, "reply": code.String()}

	reply := excmsg.EncodeErrorReply(msg, code)
	if reply != nil {
		// The reply right moves into the error reply.
		h.Bits -= mach.MsghBitsRemote(h.Bits)
		h.RemotePort = mach.PortNull
		h.Put(msg)
	}
	s.Kernel.DestroyMessage(msg)

	if reply != nil {
		if err := s.Kernel.Send(reply); err != nil {
			s.Kernel.DestroyMessage(reply)
			logServerError(log, wrapServerError(ErrSend, err, "error reply send failed", context), "error reply not sent")
		} else {
			s.Metrics.replied(code)
		}
	}
	return wrapServerError(ErrDecode, cause, "exception message rejected", context)
}

func (s *Server) releaseIdentity(log logr.Logger, req *excmsg.Request) {
	if !req.HasIdentity() {
		return
	}
	for _, name := range []mach.Port{req.Thread, req.Task} {
		if name == mach.PortNull || name == mach.PortDead {
			continue
		}
		if err := s.Kernel.DeallocatePort(name); err != nil {
			log.Error(err, "failed to release carried right", "name", portString(name))
		}
	}
}

func portString(port mach.Port) string { return fmt.Sprintf("%#x", uint32(port)) }
