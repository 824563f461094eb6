//go:build linux

package main

import (
	"bytes"
	"strings"
	"testing"
)

func Test_Run_Help_Prints_Usage_And_Exits_Zero(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	code := Run(strings.NewReader(""), &stdout, &stderr, []string{"contain", "--help"}, nil, nil)

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	if !strings.Contains(stdout.String(), "Usage: contain") {
		t.Errorf("expected usage text, got: %s", stdout.String())
	}
}

func Test_Run_No_Command_Prints_Usage_And_Exits_Zero(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	code := Run(strings.NewReader(""), &stdout, &stderr, []string{"contain"}, nil, nil)

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}

	if !strings.Contains(stdout.String(), "Usage:") {
		t.Errorf("expected usage text, got: %s", stdout.String())
	}
}

func Test_Run_Unconfined_Executes_Command_Directly(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	code := Run(strings.NewReader(""), &stdout, &stderr, []string{"contain", "--unconfined", "echo", "hello"}, map[string]string{"PATH": "/bin:/usr/bin"}, nil)

	if code != 0 {
		t.Errorf("exit code = %d, want 0, stderr=%s", code, stderr.String())
	}

	if !strings.Contains(stdout.String(), "hello") {
		t.Errorf("expected stdout to contain 'hello', got: %s", stdout.String())
	}
}
