//go:build !unix

package cli

import "fmt"

func signalName(sig int) string { return fmt.Sprintf("signal %d", sig) }

func isRoot() bool { return false }
