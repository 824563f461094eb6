//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/redox-os/contain/contain"
)

const (
	containExecutableName = "contain"

	// exitCodeSIGINT is the exit code when the process is interrupted by
	// SIGINT (128 + 2), the conventional shell encoding for signal death.
	exitCodeSIGINT = 130

	// cleanupTimeout bounds how long Run waits for the Supervisor to tear
	// down before treating the signal as a forced exit.
	cleanupTimeout = 10 * time.Second

	schemeRegistryEnv = "CONTAIN_SCHEME_REGISTRY"
)

// Run is the entry point isolated from global state (stdin/stdout/stderr,
// argv, env), a shape that keeps this entrypoint unit-testable.
// Returns the process exit code.
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if err := checkPlatformPrerequisites(); err != nil {
		fprintError(stderr, err)

		return 1
	}

	flags := flag.NewFlagSet(containExecutableName, flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(io.Discard)

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagDebug := flags.Bool("debug", false, "Print sandbox startup details to stderr")
	flagConfig := flags.StringP("config", "c", "", "Use the policy in `file` instead of the built-in defaults")
	flagRoot := flags.String("root", "", "Relocate requests outside the allowlists under `uri` (e.g. file:/home/user/project)")
	flagLogin := flags.Bool("login", false, "Run the shell named by $SHELL (or /bin/sh) instead of an explicit command")
	flagUnconfined := flags.Bool("unconfined", false, "Run the command with no sandbox at all")
	flagDirs := flags.StringArray("dir", nil, "Add a read-write directory prefix (repeatable)")
	flagRODirs := flags.StringArray("rodir", nil, "Add a read-only directory prefix (repeatable)")

	if err := flags.Parse(args[1:]); err != nil {
		fprintError(stderr, err)

		return 1
	}

	if *flagHelp {
		printUsage(stdout)

		return 0
	}

	commandAndArgs := flags.Args()

	if *flagLogin {
		shell := env["SHELL"]
		if shell == "" {
			shell = "/bin/sh"
		}

		commandAndArgs = append([]string{shell}, commandAndArgs...)
	}

	if len(commandAndArgs) == 0 {
		printUsage(stdout)

		return 0
	}

	binary, err := exec.LookPath(commandAndArgs[0])
	if err != nil {
		fprintError(stderr, fmt.Errorf("looking up %s: %w", commandAndArgs[0], err))

		return 1
	}

	cmd := &exec.Cmd{
		Path:   binary,
		Args:   commandAndArgs,
		Env:    envSlice(env),
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}

	var debug *DebugLogger
	if *flagDebug {
		debug = NewDebugLogger(stderr)
	}

	if *flagUnconfined {
		debug.Logf("running unconfined: %s", strings.Join(commandAndArgs, " "))

		code, err := contain.RunUnconfined(context.Background(), cmd)
		if err != nil {
			fprintError(stderr, err)

			return 1
		}

		return code
	}

	policy, err := loadPolicy(*flagConfig)
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	if *flagRoot != "" {
		policy.AddChroot(*flagRoot)
	}

	applyCLIOverrides(&policy, *flagDirs, *flagRODirs)
	contain.PreserveDNS(&policy, debug.fn())

	debug.Section("policy")
	debug.Policy("policy", policy.Files, policy.Dirs, policy.ROFiles, policy.RODirs)

	knownSchemes, err := contain.ListSchemes(env[schemeRegistryEnv])
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	killCtx, kill := context.WithCancel(context.Background())
	defer kill()

	termCtx, terminate := context.WithCancel(killCtx)
	defer terminate()

	type result struct {
		rawStatus int
		err       error
	}

	done := make(chan result, 1)

	go func() {
		rawStatus, err := contain.RunConfined(termCtx, policy, knownSchemes, debug.fn(), cmd)
		done <- result{rawStatus: rawStatus, err: err}
	}()

	if sigCh == nil {
		r := <-done

		return finish(stderr, r.rawStatus, r.err)
	}

	select {
	case r := <-done:
		return finish(stderr, r.rawStatus, r.err)
	case <-sigCh:
		fprintln(stderr, "Interrupted, waiting up to 10s for cleanup... (Ctrl+C again to force exit)")
		terminate()
	}

	select {
	case r := <-done:
		if r.err != nil {
			fprintError(stderr, r.err)

			return 1
		}

		fprintln(stderr, "Cleanup complete.")

		return exitCodeSIGINT
	case <-time.After(cleanupTimeout):
		fprintln(stderr, "Cleanup timed out, forced exit.")
		kill()
		<-done

		return exitCodeSIGINT
	case <-sigCh:
		fprintln(stderr, "Forced exit.")
		kill()
		<-done

		return exitCodeSIGINT
	}
}

func finish(stderr io.Writer, rawStatus int, err error) int {
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	ws := unix.WaitStatus(rawStatus)

	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 1
	}
}

func loadPolicy(configPath string) (contain.Policy, error) {
	if configPath == "" {
		return contain.DefaultPolicy(), nil
	}

	return LoadPolicyFile(configPath)
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))

	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}

const usageHelp = `contain - filesystem-scoped sandbox

Usage: contain [flags] <command> [args]

Flags:
  -h, --help             Show help
      --debug            Print sandbox startup details to stderr
  -c, --config <file>    Use the policy in <file> instead of the built-in defaults
      --root <uri>       Relocate requests outside the allowlists under <uri>
      --login            Run $SHELL (or /bin/sh) instead of an explicit command
      --unconfined       Run the command with no sandbox at all
      --dir <prefix>     Add a read-write directory prefix (repeatable)
      --rodir <prefix>   Add a read-only directory prefix (repeatable)

Examples:
  contain echo hello
  contain --config policy.jsonc bash
  contain --root file:/home/user/project --login`

func printUsage(out io.Writer) {
	fprintln(out, usageHelp)
}

func fprintln(out io.Writer, a ...any) {
	_, _ = fmt.Fprintln(out, a...)
}

func fprintError(out io.Writer, err error) {
	fprintln(out, "contain: error:", err)
}

func checkPlatformPrerequisites() error {
	if runtime.GOOS != "linux" {
		return errors.New("checking platform prerequisites: requires Linux (mount namespaces and FUSE)")
	}

	if _, err := os.Stat("/dev/fuse"); err != nil {
		return errors.New("checking platform prerequisites: /dev/fuse not available")
	}

	return nil
}
