package cli

// This file implements the "watch" command. It points a task's exception
// ports at a fresh port, serves the notifications that arrive there and puts
// the previous handlers back when it is done.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excport/internal/catcher"
	"excport/internal/excports"
	"excport/internal/mach"
	"excport/internal/msgserver"
)

// WatchManager runs exception watches with injected dependencies.
type WatchManager struct {
	kernel  mach.Kernel
	logger  *zap.Logger
	printer *Printer
}

// NewWatchManager creates a WatchManager with the given dependencies.
func NewWatchManager(kernel mach.Kernel, logger *zap.Logger, printer *Printer) *WatchManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchManager{kernel: kernel, logger: logger, printer: printer}
}

// DefaultWatchManager returns a WatchManager using the system kernel.
func DefaultWatchManager(logger *zap.Logger) *WatchManager {
	return NewWatchManager(mach.System(), logger, DefaultPrinter)
}

// NewWatchCmd builds the watch subcommand.
func NewWatchCmd(logger *zap.Logger) *cobra.Command {
	return NewWatchCmdWithManager(DefaultWatchManager(logger))
}

// WatchOptions configures one watch.
type WatchOptions struct {
	PID        int
	Persistent bool
	Config     Config
}

// NewWatchCmdWithManager returns the watch subcommand using the provided manager.
func NewWatchCmdWithManager(mgr *WatchManager) *cobra.Command {
	var opts WatchOptions
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Catch exceptions raised in a task",
		Long: `Install a handler on a task's exception ports and report every
notification it receives. The previous handlers are restored on exit.

Settings are read from flags, then EXCPORT_* environment variables, then
the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err == nil {
				err = cfg.ApplyFlags(cmd.Flags())
			}
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				mgr.printer.Error("Invalid configuration")
				logStructuredError(mgr.logger, err, "Invalid configuration")
				return err
			}
			if cfg.Debug {
				SetDebugMode(true)
			}
			opts.Config = cfg

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return mgr.Watch(ctx, opts)
		},
	}

	defaults := DefaultConfig()
	cmd.Flags().IntVar(&opts.PID, "pid", 0, "Process to watch (default: this process)")
	cmd.Flags().BoolVar(&opts.Persistent, "persistent", false, "Keep catching until the timeout or an interrupt")
	cmd.Flags().StringVar(&configPath, "config", ConfigPath(), "Config file")
	cmd.Flags().String("mask", defaults.Mask, "Comma-separated exception categories")
	cmd.Flags().String("behavior", defaults.Behavior, "Handler behavior: default, state or state-identity")
	cmd.Flags().Bool("mach-codes", false, "Request 64-bit exception codes")
	cmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// Watch installs the handler, serves notifications and restores the
// previous handlers. Cancelling ctx ends the watch without an error.
func (m *WatchManager) Watch(ctx context.Context, opts WatchOptions) (err error) {
	mask, err := opts.Config.ExceptionMask()
	if err != nil {
		return err
	}
	behavior, err := opts.Config.ExceptionBehavior()
	if err != nil {
		return err
	}
	fields := map[string]any{"pid": opts.PID, "mask": mask.String(), "behavior": behavior.String()}

	task, err := resolveTask(m.kernel, opts.PID)
	if err != nil {
		return err
	}
	defer func() { _ = task.Close() }()

	recv, err := mach.NewReceiveRight(m.kernel)
	if err != nil {
		return wrapWithSentinelAndContext(ErrAllocatePortFailed, err, "failed to allocate exception port", fields)
	}
	defer func() { _ = recv.Close() }()
	send, err := recv.MakeSend()
	if err != nil {
		return wrapWithSentinelAndContext(ErrAllocatePortFailed, err, "failed to make a send right", fields)
	}
	defer func() { _ = send.Close() }()

	ports := excports.New(m.kernel, excports.Task(task.Name()))
	defer func() { _ = ports.Close() }()

	previous, err := ports.Swap(mask, send.Name(), behavior, mach.FlavorFor(behavior))
	if err != nil {
		return wrapWithSentinelAndContext(ErrInstallFailed, err, "failed to install exception handler", fields)
	}
	defer func() {
		if rerr := ports.Restore(mask, previous); rerr != nil {
			rerr = wrapWithSentinelAndContext(ErrRestoreFailed, rerr, "failed to restore exception handlers", fields)
			m.printer.Warn("Previous exception handlers were not restored")
			logStructuredError(m.logger, rerr, "Restore failed")
			err = errors.Join(err, rerr)
		}
	}()

	var metrics *msgserver.Metrics
	if opts.Config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = msgserver.NewMetrics(reg)
		shutdown, err := m.serveMetrics(opts.Config.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	m.printer.Section("Watching exceptions")
	m.printer.Info(fmt.Sprintf("Handler %s installed for %s (%s)", send, mask, behavior))

	var waiting sync.Once
	stopSpinner := func(bool, string) {}
	if !opts.Persistent {
		stopSpinner = m.printer.SpinnerStart("Waiting for an exception")
	}
	recorder := catcher.NewRecorder(m.logger.Named("catcher"), func(s catcher.Summary) {
		waiting.Do(func() { stopSpinner(true, "Exception caught") })
		m.printSummary(s)
	})

	// The server only wakes up when its port dies, so an interrupt destroys it.
	interrupted := context.AfterFunc(ctx, func() { _ = recv.Close() })
	defer interrupted()

	server := &msgserver.Server{
		Kernel:  m.kernel,
		Catcher: recorder,
		Logger:  zapr.NewLogger(m.logger.Named("server")),
		Metrics: metrics,
	}
	runErr := server.Run(recv.Name(), msgserver.Options{
		Persistent: opts.Persistent,
		Timeout:    opts.Config.Timeout,
	})
	waiting.Do(func() { stopSpinner(runErr == nil, "Done") })

	switch {
	case ctx.Err() != nil:
		m.printer.Info(fmt.Sprintf("Interrupted after %d exception(s)", recorder.Count()))
		return nil
	case errors.Is(runErr, msgserver.ErrTimeout) && opts.Persistent:
		m.printer.Success(fmt.Sprintf("Caught %d exception(s)", recorder.Count()))
		return nil
	case errors.Is(runErr, msgserver.ErrTimeout):
		return wrapWithSentinelAndContext(ErrNoException, runErr,
			fmt.Sprintf("no exception within %s", opts.Config.Timeout), fields)
	case runErr != nil:
		m.printer.Error("Exception server failed")
		logStructuredError(m.logger, runErr, "Exception server failed")
		return runErr
	}
	return nil
}

func (m *WatchManager) printSummary(s catcher.Summary) {
	rows := [][]string{
		{"Field", "Value"},
		{"id", s.ID.String()},
		{"exception", s.Exception.String()},
		{"codes", fmt.Sprintf("%#x", s.Codes)},
		{"behavior", s.Behavior.String()},
		{"reply", s.Result.String()},
	}
	if s.Exception == mach.ExcCrash {
		rows = append(rows,
			[]string{"original exception", s.OriginalException.String()},
			[]string{"original code", fmt.Sprintf("%#x", s.OriginalCode)},
			[]string{"signal", signalName(s.Signal)},
		)
	}
	m.printer.TableBoxed(rows)
}

// metricsHandler exposes reg at /metrics.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func (m *WatchManager) serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, wrapWithSentinelAndContext(ErrMetricsServer, err, fmt.Sprintf("cannot listen on %s", addr),
			map[string]any{"addr": addr})
	}
	srv := &http.Server{Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logStructuredError(m.logger, wrapWithSentinel(ErrMetricsServer, err, "metrics endpoint stopped"), "Metrics endpoint stopped")
		}
	}()
	m.printer.Info(fmt.Sprintf("Metrics on http://%s/metrics", ln.Addr()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
