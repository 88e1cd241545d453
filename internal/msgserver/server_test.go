package msgserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"excport/internal/catcher"
	"excport/internal/excmsg"
	"excport/internal/excports"
	"excport/internal/mach"
	"excport/internal/mach/machtest"
	"excport/pkg/errx"
)

// divideByZeroCrash is EXC_CRASH code[0] for SIGFPE from EXC_ARITHMETIC
// code 1.
const divideByZeroCrash = 0x08300001

func newPort(t *testing.T, k *machtest.Kernel) mach.Port {
	t.Helper()
	name, err := k.AllocateReceivePort()
	require.NoError(t, err)
	require.NoError(t, k.InsertSendRight(name))
	return name
}

func install(t *testing.T, k *machtest.Kernel, target excports.Target, port mach.Port, behavior mach.Behavior) {
	t.Helper()
	ports := excports.New(k, target)
	defer func() { require.NoError(t, ports.Close()) }()
	require.NoError(t, ports.Set(mach.MaskCrash, port, behavior, mach.FlavorFor(behavior)))
}

func raise(t *testing.T, k *machtest.Kernel, thread mach.Port, codes ...int64) <-chan *machtest.Outcome {
	t.Helper()
	done := make(chan *machtest.Outcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := k.Raise(ctx, thread, mach.ExcCrash, codes...)
		if err != nil {
			t.Errorf("Raise: %v", err)
		}
		done <- out
	}()
	return done
}

func wait(t *testing.T, done <-chan *machtest.Outcome) *machtest.Outcome {
	t.Helper()
	select {
	case out := <-done:
		require.NotNil(t, out)
		return out
	case <-time.After(10 * time.Second):
		t.Fatal("triage did not finish")
		return nil
	}
}

type env struct {
	k      *machtest.Kernel
	thread mach.Port
}

func newEnv(t *testing.T) env {
	t.Helper()
	k := machtest.New()
	thread, err := k.NewThread(k.TaskSelf())
	require.NoError(t, err)
	return env{k: k, thread: thread}
}

func TestServer_DeliversToTaskHandler(t *testing.T) {
	for _, behavior := range []mach.Behavior{
		mach.BehaviorDefault,
		mach.BehaviorState,
		mach.BehaviorStateIdentity,
		mach.BehaviorDefault | mach.MachExceptionCodes,
		mach.BehaviorState | mach.MachExceptionCodes,
		mach.BehaviorStateIdentity | mach.MachExceptionCodes,
	} {
		t.Run(behavior.String(), func(t *testing.T) {
			e := newEnv(t)
			port := newPort(t, e.k)
			install(t, e.k, excports.Task(mach.PortNull), port, behavior)
			threadRefs := e.k.Refs(e.thread).Send

			recorder := catcher.NewRecorder(zaptest.NewLogger(t), nil)
			server := &Server{Kernel: e.k, Catcher: recorder}
			done := raise(t, e.k, e.thread, divideByZeroCrash, 0)
			require.NoError(t, server.Run(port, Options{Timeout: 5 * time.Second}))
			out := wait(t, done)

			assert.Equal(t, []machtest.Scope{machtest.ScopeTask}, out.Scopes())
			assert.Equal(t, catcher.SuccessResult(behavior, false), out.Result)

			s, ok := recorder.Last()
			require.True(t, ok)
			assert.Equal(t, mach.ExcCrash, s.Exception)
			assert.Equal(t, mach.ExcArithmetic, s.OriginalException)
			assert.Equal(t, int64(1), s.OriginalCode)
			assert.Equal(t, 8, s.Signal)
			assert.Equal(t, threadRefs, e.k.Refs(e.thread).Send, "carried rights are released")
		})
	}
}

func TestServer_ThreadHandlerTakesPrecedence(t *testing.T) {
	e := newEnv(t)
	threadPort := newPort(t, e.k)
	taskPort := newPort(t, e.k)
	install(t, e.k, excports.Task(mach.PortNull), taskPort, mach.BehaviorDefault)
	install(t, e.k, excports.Thread(e.thread), threadPort, mach.BehaviorState)

	recorder := catcher.NewRecorder(nil, nil)
	server := &Server{Kernel: e.k, Catcher: recorder}
	done := raise(t, e.k, e.thread, divideByZeroCrash)
	require.NoError(t, server.Run(threadPort, Options{Timeout: 5 * time.Second}))
	out := wait(t, done)

	assert.Equal(t, []machtest.Scope{machtest.ScopeThread}, out.Scopes())
	assert.Equal(t, mach.MachRcvPortDied, out.Result)
	assert.Equal(t, 1, recorder.Count())

	err := (&Server{Kernel: e.k, Catcher: recorder}).Run(taskPort, Options{Nonblocking: true})
	assert.ErrorIs(t, err, ErrTimeout, "the task handler must not be notified")
}

func TestServer_StateReplyRule(t *testing.T) {
	setup := func(t *testing.T) (env, mach.Port, mach.Port) {
		e := newEnv(t)
		e.k.SetPrivileged(true)
		taskPort := newPort(t, e.k)
		hostPort := newPort(t, e.k)
		install(t, e.k, excports.Task(mach.PortNull), taskPort, mach.BehaviorState|mach.MachExceptionCodes)
		install(t, e.k, excports.Host(mach.PortNull), hostPort, mach.BehaviorDefault)
		return e, taskPort, hostPort
	}

	t.Run("no-state-stops-at-task", func(t *testing.T) {
		e, taskPort, hostPort := setup(t)
		server := &Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil)}
		done := raise(t, e.k, e.thread, divideByZeroCrash)
		require.NoError(t, server.Run(taskPort, Options{Timeout: 5 * time.Second}))
		out := wait(t, done)

		assert.Equal(t, []machtest.Scope{machtest.ScopeTask}, out.Scopes())
		assert.Equal(t, mach.MachRcvPortDied, out.Result)
		err := server.Run(hostPort, Options{Nonblocking: true})
		assert.ErrorIs(t, err, ErrTimeout, "the host handler must not be notified")
	})

	t.Run("success-without-state-escalates", func(t *testing.T) {
		e, taskPort, hostPort := setup(t)
		careless := catcher.Func(func(req *excmsg.Request) mach.KernReturn {
			req.NoStateReply = true
			return mach.KernSuccess
		})
		hostDone := make(chan error, 1)
		go func() {
			hostServer := &Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil)}
			hostDone <- hostServer.Run(hostPort, Options{Timeout: 5 * time.Second})
		}()

		done := raise(t, e.k, e.thread, divideByZeroCrash)
		require.NoError(t, (&Server{Kernel: e.k, Catcher: careless}).Run(taskPort, Options{Timeout: 5 * time.Second}))
		out := wait(t, done)
		require.NoError(t, <-hostDone)

		assert.Equal(t, []machtest.Scope{machtest.ScopeTask, machtest.ScopeHost}, out.Scopes())
		assert.False(t, out.Deliveries[0].StateApplied)
	})

	t.Run("state-applied", func(t *testing.T) {
		e, taskPort, _ := setup(t)
		before := e.k.ThreadState(e.thread)
		editor := catcher.Func(func(req *excmsg.Request) mach.KernReturn {
			for _, word := range req.OldState {
				req.NewState = append(req.NewState, word+1)
			}
			return catcher.Resolve(req)
		})
		done := raise(t, e.k, e.thread, divideByZeroCrash)
		require.NoError(t, (&Server{Kernel: e.k, Catcher: editor}).Run(taskPort, Options{Timeout: 5 * time.Second}))
		out := wait(t, done)

		assert.Equal(t, mach.KernSuccess, out.Result)
		require.Len(t, out.Deliveries, 1)
		assert.True(t, out.Deliveries[0].StateApplied)
		after := e.k.ThreadState(e.thread)
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i]+1, after[i])
		}
	})
}

func TestServer_Timeout(t *testing.T) {
	e := newEnv(t)
	port := newPort(t, e.k)
	server := &Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil)}

	t.Run("deadline", func(t *testing.T) {
		start := time.Now()
		err := server.Run(port, Options{Timeout: 50 * time.Millisecond})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, mach.MachRcvTimedOut)
		assert.Equal(t, errx.CodeTimeout, errx.CodeOf(err))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("nonblocking", func(t *testing.T) {
		err := server.Run(port, Options{Nonblocking: true})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("persistent-deadline", func(t *testing.T) {
		err := server.Run(port, Options{Persistent: true, Timeout: 20 * time.Millisecond})
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestServer_Persistent(t *testing.T) {
	e := newEnv(t)
	port := newPort(t, e.k)
	install(t, e.k, excports.Task(mach.PortNull), port, mach.BehaviorDefault|mach.MachExceptionCodes)

	recorder := catcher.NewRecorder(nil, nil)
	server := &Server{Kernel: e.k, Catcher: recorder}
	served := make(chan error, 1)
	go func() { served <- server.Run(port, Options{Persistent: true}) }()

	for i := 0; i < 3; i++ {
		out := wait(t, raise(t, e.k, e.thread, divideByZeroCrash, int64(i)))
		assert.Equal(t, mach.KernSuccess, out.Result)
	}
	require.NoError(t, e.k.DestroyReceiveRight(port))

	err := <-served
	assert.ErrorIs(t, err, ErrReceive)
	assert.Equal(t, errx.CodeReceive, errx.CodeOf(err))
	assert.Equal(t, 3, recorder.Count())
}

// client sends hand-built requests the way a user-space sender would.
type client struct {
	k      *machtest.Kernel
	thread mach.Port
	reply  mach.Port
}

func newClient(t *testing.T, e env) *client {
	t.Helper()
	reply, err := e.k.AllocateReceivePort()
	require.NoError(t, err)
	return &client{k: e.k, thread: e.thread, reply: reply}
}

func (c *client) request(t *testing.T, port mach.Port, behavior mach.Behavior) []byte {
	t.Helper()
	req := &excmsg.Request{
		Behavior:      behavior,
		ExceptionPort: port,
		ReplyPort:     c.reply,
		Thread:        c.thread,
		Task:          c.k.TaskSelf(),
		Exception:     mach.ExcCrash,
		Codes:         []int64{divideByZeroCrash, 0},
		Flavor:        mach.FlavorFor(behavior),
	}
	if behavior.IsStateCarrying() {
		req.OldState = make([]uint32, mach.MachineThreadStateCount)
	}
	msg, err := excmsg.EncodeRequest(req)
	require.NoError(t, err)
	return msg
}

func (c *client) receive(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, excmsg.ReceiveBufferSize)
	n, err := c.k.Receive(c.reply, buf, 5*time.Second)
	require.NoError(t, err)
	return buf[:n]
}

func (c *client) awaitReply(t *testing.T) *excmsg.Reply {
	t.Helper()
	reply, err := excmsg.DecodeReply(c.receive(t))
	require.NoError(t, err)
	return reply
}

func TestServer_RejectsUndecodableMessages(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(msg []byte)
		want   mach.KernReturn
	}{
		{
			name:   "unknown-id",
			mangle: func(msg []byte) { mach.ByteOrder.PutUint32(msg[20:], 2404) },
			want:   mach.MigBadID,
		},
		{
			name: "code-count-too-large",
			// codeCnt follows the NDR record and the exception.
			mangle: func(msg []byte) { mach.ByteOrder.PutUint32(msg[64:], 3) },
			want:   mach.MigBadArguments,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			port := newPort(t, e.k)
			c := newClient(t, e)
			threadRefs := e.k.Refs(e.thread).Send

			msg := c.request(t, port, mach.BehaviorDefault)
			tt.mangle(msg)
			require.NoError(t, e.k.Send(msg))

			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			server := &Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil), Metrics: metrics}
			err := server.Run(port, Options{Timeout: 5 * time.Second})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Equal(t, errx.CodeDecode, errx.CodeOf(err))

			// An unknown id has no reply variant, so read the short form by hand.
			raw := c.receive(t)
			require.Len(t, raw, excmsg.ShortReplySize)
			h, ok := mach.ParseHeader(raw)
			require.True(t, ok)
			assert.Equal(t, int32(mach.ByteOrder.Uint32(msg[20:]))+excmsg.ReplyIDOffset, h.ID)
			assert.Equal(t, tt.want, mach.KernReturn(int32(mach.ByteOrder.Uint32(raw[excmsg.ShortReplySize-4:]))))
			assert.Equal(t, threadRefs, e.k.Refs(e.thread).Send, "descriptors are destroyed")
			assert.Equal(t, 0, e.k.Refs(c.reply).SendOnce)

			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Received))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecodeFailures))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Replies.WithLabelValues(tt.want.String())))
		})
	}
}

func TestServer_ReplyShapes(t *testing.T) {
	tests := []struct {
		name      string
		behavior  mach.Behavior
		catch     catcher.Func
		want      mach.KernReturn
		wantState bool
	}{
		{
			name:     "default",
			behavior: mach.BehaviorDefault,
			catch:    catcher.Resolve,
			want:     mach.KernSuccess,
		},
		{
			name:     "state-without-new-state",
			behavior: mach.BehaviorState,
			catch:    catcher.Resolve,
			want:     mach.MachRcvPortDied,
		},
		{
			name:     "state-identity-with-new-state",
			behavior: mach.BehaviorStateIdentity | mach.MachExceptionCodes,
			catch: func(req *excmsg.Request) mach.KernReturn {
				req.NewState = append(req.NewState, req.OldState...)
				return catcher.Resolve(req)
			},
			want:      mach.KernSuccess,
			wantState: true,
		},
		{
			name:     "failure",
			behavior: mach.BehaviorState | mach.MachExceptionCodes,
			catch:    func(*excmsg.Request) mach.KernReturn { return mach.KernFailure },
			want:     mach.KernFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			port := newPort(t, e.k)
			c := newClient(t, e)
			require.NoError(t, e.k.Send(c.request(t, port, tt.behavior)))

			server := &Server{Kernel: e.k, Catcher: tt.catch}
			require.NoError(t, server.Run(port, Options{Timeout: 5 * time.Second}))

			reply := c.awaitReply(t)
			want, _ := excmsg.RequestID(tt.behavior)
			assert.Equal(t, want+excmsg.ReplyIDOffset, reply.MsgID)
			assert.Equal(t, tt.want, reply.RetCode)
			assert.Equal(t, tt.wantState, reply.HasState)
			if tt.wantState {
				assert.Equal(t, mach.MachineThreadState, reply.Flavor)
				assert.Len(t, reply.NewState, mach.MachineThreadStateCount)
			}
		})
	}
}

func TestServer_NoReply(t *testing.T) {
	e := newEnv(t)
	port := newPort(t, e.k)
	install(t, e.k, excports.Task(mach.PortNull), port, mach.BehaviorDefault)

	var kept *excmsg.Request
	deferred := catcher.Func(func(req *excmsg.Request) mach.KernReturn {
		kept = req
		return mach.MigNoReply
	})
	done := raise(t, e.k, e.thread, divideByZeroCrash)
	require.NoError(t, (&Server{Kernel: e.k, Catcher: deferred}).Run(port, Options{Timeout: 5 * time.Second}))

	select {
	case <-done:
		t.Fatal("triage finished before the deferred reply")
	case <-time.After(20 * time.Millisecond):
	}
	require.NotNil(t, kept)
	require.NoError(t, e.k.Send(excmsg.EncodeReply(kept, mach.KernSuccess)))
	assert.Equal(t, mach.KernSuccess, wait(t, done).Result)
}

func TestServer_SendFailure(t *testing.T) {
	e := newEnv(t)
	port := newPort(t, e.k)
	c := newClient(t, e)
	require.NoError(t, e.k.Send(c.request(t, port, mach.BehaviorDefault)))

	abandon := catcher.Func(func(req *excmsg.Request) mach.KernReturn {
		require.NoError(t, e.k.DestroyReceiveRight(c.reply))
		return mach.KernSuccess
	})
	err := (&Server{Kernel: e.k, Catcher: abandon}).Run(port, Options{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, mach.MachSendInvalidDest)
	assert.Equal(t, errx.CodeSend, errx.CodeOf(err))
	assert.False(t, e.k.Refs(c.reply).Present, "the reply right is destroyed")
}

func TestServer_ReceiveFailure(t *testing.T) {
	e := newEnv(t)
	err := (&Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil)}).Run(0x9999, Options{Nonblocking: true})
	assert.ErrorIs(t, err, ErrReceive)
	assert.ErrorIs(t, err, mach.MachRcvInvalidName)
}

func TestServer_Validate(t *testing.T) {
	k := machtest.New()
	rec := catcher.NewRecorder(nil, nil)
	tests := []struct {
		name   string
		server *Server
		opts   Options
	}{
		{name: "no-kernel", server: &Server{Catcher: rec}},
		{name: "no-catcher", server: &Server{Kernel: k}},
		{name: "negative-timeout", server: &Server{Kernel: k, Catcher: rec}, opts: Options{Timeout: -time.Second}},
		{name: "nonblocking-with-timeout", server: &Server{Kernel: k, Catcher: rec}, opts: Options{Nonblocking: true, Timeout: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Run(mach.PortNull, tt.opts)
			assert.ErrorIs(t, err, ErrConfig)
			assert.False(t, errors.Is(err, ErrReceive))
		})
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.received()
		m.decodeFailed()
		m.replied(mach.KernSuccess)
		m.dispatched(time.Millisecond)
	})
}

func TestMetrics_Replies(t *testing.T) {
	e := newEnv(t)
	port := newPort(t, e.k)
	install(t, e.k, excports.Task(mach.PortNull), port, mach.BehaviorState)

	metrics := NewMetrics(prometheus.NewRegistry())
	server := &Server{Kernel: e.k, Catcher: catcher.NewRecorder(nil, nil), Metrics: metrics}
	done := raise(t, e.k, e.thread, divideByZeroCrash)
	require.NoError(t, server.Run(port, Options{Timeout: 5 * time.Second}))
	wait(t, done)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Received))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DecodeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Replies.WithLabelValues("MACH_RCV_PORT_DIED")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Dispatch))
}
