//go:build linux

// Command contain runs a program inside a filesystem-scoped sandbox,
// realizing redox-os/contain's scheme interception proxy on Linux.
package main

import (
	"os"

	"github.com/redox-os/contain/contain"
)

func main() {
	if contain.IsNamespaceEnterStub() {
		// Re-exec'd by runInNamespace to setns and hand off to the real
		// target; this path never returns. See contain.EnterNamespaceAndExec.
		args := os.Args[2:]
		if len(args) == 0 {
			os.Stderr.WriteString("contain: missing target for namespace-entry stub\n")
			os.Exit(contain.ExecFailExitCode)
		}

		contain.EnterNamespaceAndExec(args[0], args, os.Environ())

		return
	}

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)

	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, envMap(os.Environ()), sigCh))
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))

	for _, kv := range environ {
		for i := range kv {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]

				break
			}
		}
	}

	return out
}
