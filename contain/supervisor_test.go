//go:build linux

package contain

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

// requireFUSE skips e2e tests on hosts where this package's namespace and
// FUSE mounts can't actually run, matching a conventional environment-gated skip
// convention for environment-dependent tests.
func requireFUSE(t *testing.T) {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("test requires linux")
	}

	if os.Getuid() != 0 {
		t.Skip("test requires root to create a mount namespace")
	}

	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("test requires /dev/fuse")
	}
}

func Test_Supervisor_Mounts_Sandboxed_Scheme_And_Tears_Down(t *testing.T) {
	requireFUSE(t)

	policy, err := ValidatePolicy(DefaultPolicy(), []string{"file", "rand", "null", "tcp", "udp", "thisproc"}, nil)
	if err != nil {
		t.Fatalf("ValidatePolicy: %v", err)
	}

	supervisor, err := NewSupervisor(policy, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	if err := supervisor.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func Test_RunConfined_Echoes_Inside_Sandbox(t *testing.T) {
	requireFUSE(t)

	cmd := exec.Command("echo", "hello")

	rawStatus, err := RunConfined(context.Background(), DefaultPolicy(), []string{"file", "rand", "null", "tcp", "udp", "thisproc"}, nil, cmd)
	if err != nil {
		t.Fatalf("RunConfined: %v", err)
	}

	ws := unix.WaitStatus(rawStatus)
	if !ws.Exited() || ws.ExitStatus() != 0 {
		t.Errorf("rawStatus = %x, want a clean exit (0)", rawStatus)
	}
}
