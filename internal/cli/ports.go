package cli

// This file implements the "ports" command, which reads the exception
// handler table of a thread, task or the host.

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excport/internal/excports"
	"excport/internal/mach"
)

// PortsManager reads exception handler tables with injected dependencies.
type PortsManager struct {
	kernel  mach.Kernel
	logger  *zap.Logger
	printer *Printer
}

// NewPortsManager creates a PortsManager with the given dependencies.
func NewPortsManager(kernel mach.Kernel, logger *zap.Logger, printer *Printer) *PortsManager {
	return &PortsManager{kernel: kernel, logger: logger, printer: printer}
}

// DefaultPortsManager returns a PortsManager using the system kernel.
func DefaultPortsManager(logger *zap.Logger) *PortsManager {
	return NewPortsManager(mach.System(), logger, DefaultPrinter)
}

// NewPortsCmd builds the ports subcommand.
func NewPortsCmd(logger *zap.Logger) *cobra.Command {
	return NewPortsCmdWithManager(DefaultPortsManager(logger))
}

// NewPortsCmdWithManager returns the ports subcommand using the provided manager.
func NewPortsCmdWithManager(mgr *PortsManager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Inspect exception ports",
		Long:  "Commands for inspecting the exception handlers of a thread, task or the host",
	}
	cmd.AddCommand(mgr.newPortsGetCmd())
	return cmd
}

// PortsGetOptions selects the table and categories to read.
type PortsGetOptions struct {
	Target string
	PID    int
	Mask   string
}

// HandlerRow is one handler as printed.
type HandlerRow struct {
	Mask     mach.ExceptionMask
	Port     mach.Port
	Behavior mach.Behavior
	Flavor   mach.Flavor
}

func (m *PortsManager) newPortsGetCmd() *cobra.Command {
	var opts PortsGetOptions

	cmd := &cobra.Command{
		Use:   "get",
		Short: "List exception handlers",
		Long: `List the exception handlers installed on a target.

Host handlers can only be read as root. Reading another process's task
requires task_for_pid rights.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := m.Get(opts)
			if err != nil {
				m.printer.Error(fmt.Sprintf("Failed to read %s exception ports", opts.Target))
				logStructuredError(m.logger, err, "Failed to read exception ports")
				return err
			}
			m.printRows(opts, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Target, "target", "task", "Handler table to read: thread, task or host")
	cmd.Flags().IntVar(&opts.PID, "pid", 0, "Process whose task to read (default: this process)")
	cmd.Flags().StringVar(&opts.Mask, "mask", "all,crash", "Comma-separated exception categories")

	return cmd
}

// Get reads the handlers selected by opts.
func (m *PortsManager) Get(opts PortsGetOptions) ([]HandlerRow, error) {
	targetType, err := excports.ParseTargetType(opts.Target)
	if err != nil {
		return nil, wrapWithSentinelAndContext(ErrInvalidTarget, err, err.Error(), map[string]any{"target": opts.Target})
	}
	mask, err := mach.ParseMask(opts.Mask)
	if err != nil {
		return nil, wrapWithSentinelAndContext(ErrInvalidMask, err, err.Error(), map[string]any{"mask": opts.Mask})
	}
	if opts.PID != 0 && targetType != excports.TargetTask {
		return nil, wrapWithSentinelAndContext(ErrInvalidTarget, nil, "--pid applies to the task target only",
			map[string]any{"target": opts.Target, "pid": opts.PID})
	}

	target := excports.Target{Type: targetType}
	if targetType == excports.TargetTask {
		task, err := resolveTask(m.kernel, opts.PID)
		if err != nil {
			return nil, err
		}
		defer func() { _ = task.Close() }()
		target.Port = task.Name()
	}

	ports := excports.New(m.kernel, target)
	defer func() { _ = ports.Close() }()

	handlers, err := ports.Get(mask)
	if err != nil {
		return nil, wrapWithSentinelAndContext(ErrGetPortsFailed, err, fmt.Sprintf("failed to read %s exception ports", targetType),
			map[string]any{"target": targetType.String(), "mask": mask.String()})
	}
	defer func() { _ = excports.CloseHandlers(handlers) }()

	rows := make([]HandlerRow, 0, len(handlers))
	for _, h := range handlers {
		rows = append(rows, HandlerRow{Mask: h.Mask, Port: h.Port.Name(), Behavior: h.Behavior, Flavor: h.Flavor})
	}
	return rows, nil
}

func (m *PortsManager) printRows(opts PortsGetOptions, rows []HandlerRow) {
	if len(rows) == 0 {
		m.printer.Info(fmt.Sprintf("No %s exception handlers for %s", opts.Target, opts.Mask))
		return
	}
	data := [][]string{{"Mask", "Port", "Behavior", "Flavor"}}
	for _, r := range rows {
		data = append(data, []string{
			r.Mask.String(),
			fmt.Sprintf("%#x", uint32(r.Port)),
			r.Behavior.String(),
			fmt.Sprintf("%d", int32(r.Flavor)),
		})
	}
	m.printer.TableBoxed(data)
}

// resolveTask returns an owned send right to the task of pid. Zero means the
// calling process and yields a nil right, whose Name is PortNull and whose
// Close does nothing.
func resolveTask(kernel mach.Kernel, pid int) (*mach.SendRight, error) {
	if pid == 0 {
		return nil, nil
	}
	task, err := kernel.TaskForPID(pid)
	if err != nil {
		msg := fmt.Sprintf("task_for_pid(%d) failed", pid)
		if !isRoot() {
			msg += "; run as root"
		}
		return nil, wrapWithSentinelAndContext(ErrTaskForPIDFailed, err, msg, map[string]any{"pid": pid})
	}
	return mach.AdoptSendRight(kernel, task), nil
}
