package mach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskAll(t *testing.T) {
	assert.Zero(t, MaskAll&MaskCrash, "crash must be requested explicitly")
	assert.Zero(t, MaskAll&MaskCorpseNotify)
	assert.Equal(t, ExceptionMask(0x1bfe), MaskAll)
	assert.Equal(t, ExceptionMask(0x3ffe), MaskValid)
}

func TestExceptionType_Mask(t *testing.T) {
	assert.Equal(t, ExceptionMask(1<<10), ExcCrash.Mask())
	assert.Zero(t, ExceptionType(0).Mask())
	assert.Zero(t, ExceptionType(ExcTypesCount).Mask())
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ExceptionMask
		wantErr bool
	}{
		{name: "single", in: "crash", want: MaskCrash},
		{name: "list", in: "bad-access, arithmetic", want: MaskBadAccess | MaskArithmetic},
		{name: "all-plus-crash", in: "all,crash", want: MaskAll | MaskCrash},
		{name: "case-insensitive", in: "Crash", want: MaskCrash},
		{name: "unknown", in: "segv", wantErr: true},
		{name: "empty", in: " , ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMask(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExceptionMask_String(t *testing.T) {
	assert.Equal(t, "none", ExceptionMask(0).String())
	assert.Equal(t, "bad-access,crash", (MaskBadAccess | MaskCrash).String())
	assert.Equal(t, "crash,0x10000", (MaskCrash | 1<<16).String())

	m := MaskAll | MaskCrash
	back, err := ParseMask(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestBehavior(t *testing.T) {
	b := BehaviorStateIdentity | MachExceptionCodes
	assert.Equal(t, BehaviorStateIdentity, b.Base())
	assert.True(t, b.HasMachCodes())
	assert.True(t, b.IsStateCarrying())
	assert.True(t, b.Valid())
	assert.Equal(t, "state-identity|mach-codes", b.String())
	assert.Equal(t, uint32(0x80000003), uint32(b))

	assert.False(t, BehaviorDefault.IsStateCarrying())
	assert.False(t, Behavior(4).Valid())
	assert.Equal(t, "behavior(4)", Behavior(4).String())
}

func TestParseBehavior(t *testing.T) {
	got, err := ParseBehavior("state|mach-codes")
	require.NoError(t, err)
	assert.Equal(t, BehaviorState|MachExceptionCodes, got)

	got, err = ParseBehavior("default")
	require.NoError(t, err)
	assert.Equal(t, BehaviorDefault, got)

	_, err = ParseBehavior("identity")
	assert.Error(t, err)
	_, err = ParseBehavior("state|wide")
	assert.Error(t, err)
}

func TestFlavorFor(t *testing.T) {
	assert.Equal(t, ThreadStateNone, FlavorFor(BehaviorDefault))
	assert.Equal(t, ThreadStateNone, FlavorFor(BehaviorDefault|MachExceptionCodes))
	assert.Equal(t, MachineThreadState, FlavorFor(BehaviorState))
	assert.Equal(t, MachineThreadState, FlavorFor(BehaviorStateIdentity|MachExceptionCodes))
}

func TestKernReturn(t *testing.T) {
	assert.NoError(t, KernSuccess.Err())
	assert.Equal(t, "MACH_RCV_PORT_DIED (0x10004009)", MachRcvPortDied.Error())
	assert.Equal(t, "MIG_BAD_ID", MigBadID.String())
	assert.Equal(t, "kern_return_t(0x7b)", KernReturn(123).String())

	var err error = KernInvalidArgument
	assert.ErrorIs(t, err, KernInvalidArgument)
}

func TestHeader(t *testing.T) {
	h := Header{
		Bits:       MsghBitsComplex | MsghBits(MsgTypeCopySend, MsgTypeMakeSendOnce),
		Size:       76,
		RemotePort: 0x103,
		LocalPort:  0x207,
		ID:         2401,
	}
	buf := make([]byte, HeaderSize)
	h.Put(buf)

	got, ok := ParseHeader(buf)
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.True(t, got.Complex())
	assert.Equal(t, uint32(MsgTypeCopySend), MsghBitsRemote(got.Bits))
	assert.Equal(t, uint32(MsgTypeMakeSendOnce), MsghBitsLocal(got.Bits))

	_, ok = ParseHeader(buf[:HeaderSize-1])
	assert.False(t, ok)
}

func TestExceptionPortsInfo_Len(t *testing.T) {
	info := ExceptionPortsInfo{
		Masks:     []ExceptionMask{MaskCrash},
		Ports:     []Port{0x103},
		Behaviors: []Behavior{BehaviorDefault},
		Flavors:   []Flavor{ThreadStateNone},
	}
	assert.Equal(t, 1, info.Len())
	info.Flavors = nil
	assert.Equal(t, -1, info.Len())
}
