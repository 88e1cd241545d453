// Package e2e provides end-to-end tests for excport.
//
// These tests build the excport binary and, on macOS, catch a real crash in
// a child process. Use them to verify the complete system works end-to-end.
//
// Run with: go test -v ./test/e2e/...
// Skip with: go test -short ./...
package e2e

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// crashEnv makes the test binary crash instead of running tests.
const crashEnv = "EXCPORT_E2E_CRASH"

func TestMain(m *testing.M) {
	if os.Getenv(crashEnv) == "1" {
		crash()
		os.Exit(3)
	}
	os.Exit(m.Run())
}

// skipIfShort skips the test if running in short mode.
func skipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
}

// buildBinary compiles cmd/excport into a temporary directory.
func buildBinary(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("skipping: go toolchain not in PATH")
	}
	bin := filepath.Join(t.TempDir(), "excport")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}
	runCommand(t, "go", "build", "-o", bin, "../../cmd/excport")
	return bin
}

// runCommand runs a command and returns its output.
func runCommand(t *testing.T, name string, args ...string) string {
	t.Helper()
	out, err := runCommandAllowFail(name, args...)
	if err != nil {
		t.Fatalf("%s %v failed: %v\noutput: %s", name, args, err, out)
	}
	return out
}

// runCommandAllowFail runs a command and returns output even if it fails.
func runCommandAllowFail(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String() + stderr.String(), err
}

func TestCLIRecover(t *testing.T) {
	skipIfShort(t)
	bin := buildBinary(t)

	output := runCommand(t, bin, "recover", "0x08300001")
	for _, want := range []string{"arithmetic", "0x1"} {
		if !strings.Contains(output, want) {
			t.Errorf("recover output missing %q: %s", want, output)
		}
	}
}

func TestCLIRejectsBadCode(t *testing.T) {
	skipIfShort(t)
	bin := buildBinary(t)

	output, err := runCommandAllowFail(bin, "recover", "not-a-code")
	if err == nil {
		t.Fatalf("expected failure, got output: %s", output)
	}
}

func TestCLIWatchTimesOut(t *testing.T) {
	skipIfShort(t)
	if runtime.GOOS != "darwin" {
		t.Skip("skipping: Mach exception ports need macOS")
	}
	bin := buildBinary(t)

	output, err := runCommandAllowFail(bin, "watch", "--config", filepath.Join(t.TempDir(), "none.yaml"),
		"--mask", "breakpoint", "--timeout", "200ms")
	if err == nil {
		t.Fatalf("expected a timeout, got output: %s", output)
	}
	if !strings.Contains(output, "no exception") {
		t.Errorf("unexpected watch output: %s", output)
	}
}
