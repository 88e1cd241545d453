package catcher

import (
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"excport/internal/excmsg"
	"excport/internal/mach"
)

func TestSuccessResult(t *testing.T) {
	tests := []struct {
		name     string
		behavior mach.Behavior
		setState bool
		want     mach.KernReturn
	}{
		{name: "default", behavior: mach.BehaviorDefault, want: mach.KernSuccess},
		{name: "default-mach-codes", behavior: mach.BehaviorDefault | mach.MachExceptionCodes, want: mach.KernSuccess},
		{name: "default-set-state", behavior: mach.BehaviorDefault, setState: true, want: mach.KernSuccess},
		{name: "state-no-state", behavior: mach.BehaviorState, want: mach.MachRcvPortDied},
		{name: "state-identity-no-state", behavior: mach.BehaviorStateIdentity, want: mach.MachRcvPortDied},
		{name: "state-identity-mach-codes-no-state", behavior: mach.BehaviorStateIdentity | mach.MachExceptionCodes, want: mach.MachRcvPortDied},
		{name: "state-with-state", behavior: mach.BehaviorState, setState: true, want: mach.KernSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuccessResult(tt.behavior, tt.setState))
		})
	}
}

func TestIsStateCarrying(t *testing.T) {
	assert.False(t, IsStateCarrying(mach.BehaviorDefault|mach.MachExceptionCodes))
	assert.True(t, IsStateCarrying(mach.BehaviorState|mach.MachExceptionCodes))
	assert.True(t, IsStateCarrying(mach.BehaviorStateIdentity))
}

func TestResolve(t *testing.T) {
	t.Run("state-supplied", func(t *testing.T) {
		req := &excmsg.Request{Behavior: mach.BehaviorState, NewState: []uint32{1, 2}}
		assert.Equal(t, mach.KernSuccess, Resolve(req))
		assert.False(t, req.NoStateReply)
	})

	t.Run("state-opted-out", func(t *testing.T) {
		req := &excmsg.Request{Behavior: mach.BehaviorStateIdentity, NewState: []uint32{1}, NoStateReply: true}
		assert.Equal(t, mach.MachRcvPortDied, Resolve(req))
		assert.True(t, req.NoStateReply)
	})

	t.Run("state-empty", func(t *testing.T) {
		req := &excmsg.Request{Behavior: mach.BehaviorState}
		assert.Equal(t, mach.MachRcvPortDied, Resolve(req))
		assert.True(t, req.NoStateReply)
	})

	t.Run("default", func(t *testing.T) {
		req := &excmsg.Request{Behavior: mach.BehaviorDefault}
		assert.Equal(t, mach.KernSuccess, Resolve(req))
	})
}

func TestRecoverOriginalException(t *testing.T) {
	tests := []struct {
		name       string
		code0      int64
		wantExc    mach.ExceptionType
		wantCode   int64
		wantSignal int
	}{
		{
			name:       "x86-divide-by-zero",
			code0:      0x08300001,
			wantExc:    mach.ExcArithmetic,
			wantCode:   1,
			wantSignal: int(syscall.SIGFPE),
		},
		{
			name:       "raised-sigfpe",
			code0:      0x08000000,
			wantExc:    0,
			wantCode:   0,
			wantSignal: int(syscall.SIGFPE),
		},
		{
			name:       "bad-access",
			code0:      0x0b10000d,
			wantExc:    mach.ExcBadAccess,
			wantCode:   0xd,
			wantSignal: int(syscall.SIGSEGV),
		},
		{
			name:       "high-bits-ignored",
			code0:      -0x7fffffff_f7cffffe,
			wantExc:    mach.ExcArithmetic,
			wantCode:   2,
			wantSignal: int(syscall.SIGFPE),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exc, code, sig := RecoverOriginalException(tt.code0)
			assert.Equal(t, tt.wantExc, exc)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantSignal, sig)
		})
	}
}

func TestFunc(t *testing.T) {
	var called int
	c := Func(func(req *excmsg.Request) mach.KernReturn {
		called++
		return mach.MigNoReply
	})
	assert.Equal(t, mach.MigNoReply, c.CatchException(&excmsg.Request{}))
	assert.Equal(t, 1, called)
}

func TestRecorder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen []Summary
	r := NewRecorder(zap.New(core), func(s Summary) { seen = append(seen, s) })

	_, ok := r.Last()
	assert.False(t, ok)

	req := &excmsg.Request{
		ID:        uuid.New(),
		Behavior:  mach.BehaviorStateIdentity | mach.MachExceptionCodes,
		Thread:    0x1303,
		Task:      0x1403,
		Exception: mach.ExcCrash,
		Codes:     []int64{0x08300001, 0},
		Flavor:    mach.MachineThreadState,
		NewState:  make([]uint32, 0, mach.ThreadStateMax),
	}
	result := r.CatchException(req)

	assert.Equal(t, mach.MachRcvPortDied, result)
	assert.True(t, req.NoStateReply)
	assert.Equal(t, 1, r.Count())

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, req.ID, last.ID)
	assert.Equal(t, mach.ExcArithmetic, last.OriginalException)
	assert.Equal(t, int(syscall.SIGFPE), last.Signal)
	assert.Equal(t, mach.MachRcvPortDied, last.Result)
	require.Len(t, seen, 1)

	entries := logs.FilterMessage("exception caught").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "crash", fields["exception"])
	assert.Equal(t, int64(8), fields["signal"])
	assert.Equal(t, req.ID.String(), fields["id"])
}

func TestRecorder_DefaultBehavior(t *testing.T) {
	r := NewRecorder(nil, nil)
	req := &excmsg.Request{Behavior: mach.BehaviorDefault, Exception: mach.ExcBreakpoint, Codes: []int64{1}}
	assert.Equal(t, mach.KernSuccess, r.CatchException(req))

	last, _ := r.Last()
	assert.Zero(t, last.Signal)
}
