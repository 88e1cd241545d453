package errx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_New(t *testing.T) {
	err := New(CodeKernel, DescKernel, "task_get_exception_ports")

	assert.Equal(t, CodeKernel, err.Code())
	assert.Equal(t, DescKernel, err.Description())
	assert.Equal(t, "task_get_exception_ports", err.Message())
	assert.Nil(t, err.Context())
	assert.Nil(t, err.Cause())
	assert.Nil(t, err.Base())
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{name: "message", err: New("71000", "Kernel call rejected", "get failed"), want: "get failed"},
		{name: "description", err: New("71000", "Kernel call rejected", ""), want: "Kernel call rejected"},
		{name: "code", err: New("71000", "", ""), want: "71000"},
		{name: "empty", err: New("", "", ""), want: "error"},
		{name: "nil", err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_WrapAndIs(t *testing.T) {
	base := errors.New("kernel rejected")
	cause := errors.New("(os/kern) invalid argument")
	err := Wrap(CodeKernel, DescKernel, "host_get_exception_ports", cause).WithBase(base)

	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, cause)
	assert.Same(t, cause, err.Cause())
	assert.Same(t, base, err.Base())
	// Unwrap yields the cause, never the base.
	assert.Same(t, cause, err.Unwrap())
}

func TestError_WithBaseOnly(t *testing.T) {
	base := errors.New("base")
	err := New(CodeDecode, DescDecode, "bad size").WithBase(base)

	assert.ErrorIs(t, err, base)
	assert.Nil(t, err.Unwrap())
}

func TestError_WithContextDoesNotMutate(t *testing.T) {
	orig := New(CodeReceive, DescReceive, "mach_msg")
	withPort := orig.WithContext("port", 0x1303)

	assert.Nil(t, orig.Context())
	assert.Equal(t, map[string]any{"port": 0x1303}, withPort.Context())

	merged := withPort.WithContextMap(map[string]any{"timeout": "1s"})
	assert.Equal(t, map[string]any{"port": 0x1303, "timeout": "1s"}, merged.Context())
	assert.Len(t, withPort.Context(), 1)
}

func TestError_ContextIsCopied(t *testing.T) {
	err := New(CodeCLI, DescCLI, "bad mask").WithContext("mask", "crash")
	ctx := err.Context()
	ctx["mask"] = "changed"

	require.NotNil(t, err.Context())
	assert.Equal(t, "crash", err.Context()["mask"])
}

func TestError_NilReceivers(t *testing.T) {
	var err *Error

	assert.Nil(t, err.WithContext("k", "v"))
	assert.Nil(t, err.WithContextMap(map[string]any{"k": "v"}))
	assert.Nil(t, err.WithBase(errors.New("base")))
	assert.False(t, err.Is(errors.New("x")))
	assert.Empty(t, err.Code())
}
