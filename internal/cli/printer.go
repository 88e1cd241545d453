package cli

// This file provides terminal output helpers built on pterm. Styling is
// turned off when stdout is not a terminal so piped output stays plain.

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// Printer writes human-readable output. Quiet suppresses everything except
// errors and tables.
type Printer struct {
	Quiet bool
	Out   io.Writer
}

// DefaultPrinter is the printer the package-level helpers use.
var DefaultPrinter = &Printer{}

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		pterm.DisableStyling()
	}
}

func (p *Printer) writer() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stdout
}

// Printf prints a formatted line unless quiet.
func (p *Printer) Printf(format string, args ...any) {
	if p.Quiet {
		return
	}
	fmt.Fprintf(p.writer(), format, args...)
}

// Println prints its arguments unless quiet.
func (p *Printer) Println(args ...any) {
	if p.Quiet {
		return
	}
	fmt.Fprintln(p.writer(), args...)
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.Quiet {
		return
	}
	pterm.DefaultSection.WithWriter(p.writer()).Println(title)
}

// Step prints a step marker.
func (p *Printer) Step(msg string) {
	if p.Quiet {
		return
	}
	fmt.Fprintln(p.writer(), Cyan("→ ")+msg)
}

func (p *Printer) Info(msg string) {
	if p.Quiet {
		return
	}
	pterm.Info.WithWriter(p.writer()).Println(msg)
}

func (p *Printer) Success(msg string) {
	if p.Quiet {
		return
	}
	pterm.Success.WithWriter(p.writer()).Println(msg)
}

func (p *Printer) Warn(msg string) {
	if p.Quiet {
		return
	}
	pterm.Warning.WithWriter(p.writer()).Println(msg)
}

// Error always prints, quiet or not.
func (p *Printer) Error(msg string) {
	pterm.Error.WithWriter(os.Stderr).Println(msg)
}

// Table prints rows with the first row as header.
func (p *Printer) Table(data [][]string) {
	if len(data) == 0 {
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(p.writer()).Render()
}

// TableBoxed prints rows inside a box.
func (p *Printer) TableBoxed(data [][]string) {
	if len(data) == 0 {
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).WithWriter(p.writer()).Render()
}

// SpinnerStart shows a spinner with msg. The returned function stops it,
// reporting success or failure with a final message.
func (p *Printer) SpinnerStart(msg string) func(ok bool, final string) {
	if p.Quiet {
		return func(bool, string) {}
	}
	spinner, err := pterm.DefaultSpinner.WithWriter(p.writer()).Start(msg)
	if err != nil {
		p.Info(msg)
		return func(ok bool, final string) {
			if ok {
				p.Success(final)
			} else {
				p.Error(final)
			}
		}
	}
	return func(ok bool, final string) {
		if ok {
			spinner.Success(final)
		} else {
			spinner.Fail(final)
		}
	}
}

func Section(title string) { DefaultPrinter.Section(title) }
func Step(msg string) { DefaultPrinter.Step(msg) }
func Info(msg string) { DefaultPrinter.Info(msg) }
func Success(msg string) { DefaultPrinter.Success(msg) }
func Warn(msg string) { DefaultPrinter.Warn(msg) }
func Error(msg string) { DefaultPrinter.Error(msg) }
func Table(data [][]string) { DefaultPrinter.Table(data) }
func TableBoxed(data [][]string) { DefaultPrinter.TableBoxed(data) }

func Green(s string) string { return pterm.Green(s) }
func Yellow(s string) string { return pterm.Yellow(s) }
func Red(s string) string { return pterm.Red(s) }
func Cyan(s string) string { return pterm.Cyan(s) }
