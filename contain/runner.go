//go:build linux

package contain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// reexecEnv marks a process as the namespace-entry stub re-exec of itself:
// when set, cmd/contain's main must call EnterNamespaceAndExec instead of
// its normal startup, entering the namespace named by the file descriptor
// opened at reexecFD before handing off to the real target command.
//
// Go cannot splice a setns(2) call between fork and exec the way the
// original's run_in_namespace does in C (os/exec has no pre-exec hook), so
// this port re-execs the running binary itself as a tiny stub that performs
// the setns and then syscall.Exec's the real target — the same technique
// container runtimes such as runc use to enter namespaces before launching
// a workload.
const reexecEnv = "CONTAIN_NS_ENTER"

// reexecFD is the ExtraFiles index (3 + this = fd 3) at which the stub finds
// the open /proc/.../ns/mnt file descriptor to setns into.
const reexecFD = 0

// RunUnconfined spawns command with no namespace changes and waits for it to
// exit (used to run a root shell outside any sandbox).
func RunUnconfined(ctx context.Context, command *exec.Cmd) (int, error) {
	if err := command.Start(); err != nil {
		return 0, ioErrorf("RunUnconfined", err)
	}

	err := command.Wait()
	if err == nil {
		return command.ProcessState.ExitCode(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return 1, ioErrorf("RunUnconfined", err)
}

// RunConfined validates policy, builds a Supervisor around it, and runs
// command inside the Supervisor's namespace, tearing the Supervisor down
// once the child exits. This is the Go analogue of run_contained.
func RunConfined(ctx context.Context, policy Policy, knownSchemes []string, debugf Debugf, command *exec.Cmd) (int, error) {
	validated, err := ValidatePolicy(policy, knownSchemes, debugf)
	if err != nil {
		return 0, err
	}

	supervisor, err := NewSupervisor(validated, debugf)
	if err != nil {
		return 0, err
	}
	defer supervisor.Close()

	return runInNamespace(command, supervisor.ns, debugf)
}

// runInNamespace forks+execs a namespace-entry stub of the running binary,
// handing it ns as an extra file descriptor. It does a blocking wait on the
// direct child followed by a non-blocking reap loop for any further
// zombies, returning the raw wait-status word so callers must decode it with
// unix.WaitStatus rather than comparing it directly against a shell exit
// code.
func runInNamespace(command *exec.Cmd, ns *mountNamespace, debugf Debugf) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, ioErrorf("runInNamespace", err)
	}

	stub := &exec.Cmd{
		Path:       self,
		Args:       append([]string{self, "--contain-ns-enter-stub", command.Path}, command.Args[1:]...),
		Env:        append(os.Environ(), reexecEnv+"=1"),
		Stdin:      command.Stdin,
		Stdout:     command.Stdout,
		Stderr:     command.Stderr,
		ExtraFiles: []*os.File{ns.file},
	}

	if err := stub.Start(); err != nil {
		return 0, ioErrorf("runInNamespace", err)
	}

	pid := stub.Process.Pid

	var ws unix.WaitStatus

	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 0, syscallErrorf("runInNamespace", err)
	}

	for {
		var cws unix.WaitStatus

		cpid, err := unix.Wait4(-1, &cws, unix.WNOHANG, nil)
		if err != nil || cpid <= 0 {
			break
		}

		debugf.logf("runInNamespace: reaped zombie pid=%d status=%x", cpid, cws)
	}

	debugf.logf("runInNamespace: pid=%d status=%x", pid, ws)

	return int(ws), nil
}

// EnterNamespaceAndExec is the stub body cmd/contain's main invokes when it
// detects reexecEnv is set: setns into the namespace opened at fd
// 3+reexecFD, then syscall.Exec the real target, replacing this process
// image entirely. On exec failure it exits with ExecFailExitCode.
func EnterNamespaceAndExec(path string, args, env []string) {
	runtime.LockOSThread()

	ns := &mountNamespace{file: os.NewFile(uintptr(3+reexecFD), "ns")}

	if err := ns.enter(); err != nil {
		os.Stderr.WriteString("contain: failed to enter namespace: " + err.Error() + "\n")
		os.Exit(ExecFailExitCode)
	}

	_ = ns.Close()

	if err := syscall.Exec(path, args, env); err != nil {
		os.Stderr.WriteString("contain: failed to exec " + path + ": " + err.Error() + "\n")
		os.Exit(ExecFailExitCode)
	}
}

// IsNamespaceEnterStub reports whether the current process was re-exec'd by
// runInNamespace to perform the setns/exec handoff.
func IsNamespaceEnterStub() bool {
	return os.Getenv(reexecEnv) == "1"
}
