package cli

// This file implements the "recover" command, which unpacks the original
// exception, code and signal from an EXC_CRASH code[0].

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excport/internal/catcher"
	"excport/internal/mach"
)

// RecoveredCrash is what an EXC_CRASH code[0] packs.
type RecoveredCrash struct {
	Code         int64
	Exception    mach.ExceptionType
	OriginalCode int64
	Signal       int
}

// NewRecoverCmd builds the recover subcommand.
func NewRecoverCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "recover CODE",
		Short: "Decode an EXC_CRASH code",
		Long: `Decode the first code of an EXC_CRASH notification into the exception,
code and signal that ended the process. CODE may be decimal or 0x-prefixed hex.`,
		Example: "  excport recover 0x08300001",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := RecoverCrashCode(args[0])
			if err != nil {
				Error("Invalid crash code")
				logStructuredError(logger, err, "Invalid crash code")
				return err
			}
			printRecovered(DefaultPrinter, r)
			return nil
		},
	}
}

// RecoverCrashCode parses s and unpacks it.
func RecoverCrashCode(s string) (RecoveredCrash, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return RecoveredCrash{}, wrapWithSentinelAndContext(ErrInvalidCode, err,
			fmt.Sprintf("cannot parse %q as an exception code", s), map[string]any{"code": s})
	}
	code := int64(v)
	exc, orig, sig := catcher.RecoverOriginalException(code)
	return RecoveredCrash{Code: code, Exception: exc, OriginalCode: orig, Signal: sig}, nil
}

func printRecovered(p *Printer, r RecoveredCrash) {
	p.TableBoxed([][]string{
		{"Field", "Value"},
		{"code[0]", fmt.Sprintf("%#x", uint64(r.Code))},
		{"exception", r.Exception.String()},
		{"code", fmt.Sprintf("%#x", r.OriginalCode)},
		{"signal", signalName(r.Signal)},
	})
}
