package catcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"excport/internal/excmsg"
	"excport/internal/mach"
)

// Summary is what a Recorder keeps of one notification.
type Summary struct {
	ID        uuid.UUID
	Time      time.Time
	Behavior  mach.Behavior
	Exception mach.ExceptionType
	Codes     []int64
	Thread    mach.Port
	Task      mach.Port
	Result    mach.KernReturn

	// Set for EXC_CRASH only.
	OriginalException mach.ExceptionType
	OriginalCode      int64
	Signal            int
}

// Summarize extracts a Summary from req.
func Summarize(req *excmsg.Request) Summary {
	s := Summary{
		ID:        req.ID,
		Time:      time.Now(),
		Behavior:  req.Behavior,
		Exception: req.Exception,
		Codes:     append([]int64(nil), req.Codes...),
		Thread:    req.Thread,
		Task:      req.Task,
	}
	if req.Exception == mach.ExcCrash && len(req.Codes) > 0 {
		s.OriginalException, s.OriginalCode, s.Signal = RecoverOriginalException(req.Codes[0])
	}
	return s
}

// Recorder is a Catcher that logs every notification, never supplies a new
// state, and remembers what it saw.
type Recorder struct {
	logger  *zap.Logger
	onCatch func(Summary)

	mu    sync.Mutex
	last  Summary
	count int
}

// NewRecorder creates a Recorder. onCatch, if non-nil, runs after each
// notification is recorded.
func NewRecorder(logger *zap.Logger, onCatch func(Summary)) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger, onCatch: onCatch}
}

func (r *Recorder) CatchException(req *excmsg.Request) mach.KernReturn {
	s := Summarize(req)
	req.NoStateReply = true
	s.Result = SuccessResult(req.Behavior, false)

	fields := []zap.Field{
		zap.String("id", s.ID.String()),
		zap.Stringer("exception", s.Exception),
		zap.Int64s("codes", s.Codes),
		zap.Stringer("behavior", s.Behavior),
		zap.Uint32("thread", uint32(s.Thread)),
		zap.Uint32("task", uint32(s.Task)),
		zap.Stringer("result", s.Result),
	}
	if s.Exception == mach.ExcCrash {
		fields = append(fields,
			zap.Stringer("original_exception", s.OriginalException),
			zap.Int64("original_code", s.OriginalCode),
			zap.Int("signal", s.Signal),
		)
	}
	r.logger.Info("exception caught", fields...)

	r.mu.Lock()
	r.last = s
	r.count++
	r.mu.Unlock()

	if r.onCatch != nil {
		r.onCatch(s)
	}
	return s.Result
}

// Last returns the most recent summary, if any.
func (r *Recorder) Last() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.count > 0
}

// Count returns how many notifications were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
