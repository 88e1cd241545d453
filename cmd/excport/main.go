package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"excport/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	debug   = false
	quiet   = false

	// logLevel is raised to Debug by --debug once flags are parsed.
	logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
)

func main() {
	logger, err := newConsoleLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	initCommands(logger)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "excport",
	Short: "Mach exception port CLI",
	Long: `excport inspects and serves Mach exception ports:
- List the exception handlers of a thread, task or the host
- Catch the exceptions a task raises and reply to the kernel
- Decode EXC_CRASH codes`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set debug mode globally so logStructuredError can check it
		cli.SetDebugMode(debug)
		if debug {
			logLevel.SetLevel(zap.DebugLevel)
		}
		cli.DefaultPrinter.Quiet = quiet
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode with structured error logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Only print errors and results")
}

func initCommands(logger *zap.Logger) {
	rootCmd.AddCommand(cli.NewPortsCmd(logger))
	rootCmd.AddCommand(cli.NewWatchCmd(logger))
	rootCmd.AddCommand(cli.NewRecoverCmd(logger))
}

// newConsoleLogger returns a human-friendly console logger with timestamps.
// It logs at Error level until --debug raises logLevel to Debug.
func newConsoleLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = logLevel
	cfg.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
