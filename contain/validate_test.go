package contain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_ValidatePolicy_Sorts_Dedups_And_Drops_Unknown_Schemes(t *testing.T) {
	t.Parallel()

	policy := Policy{
		PassSchemes:    []string{"udp", "tcp", "tcp", "bogus"},
		SandboxSchemes: []string{"file", "file"},
	}

	var traced []string

	got, err := ValidatePolicy(policy, []string{"file", "tcp", "udp"}, func(format string, args ...any) {
		traced = append(traced, format)
	})
	if err != nil {
		t.Fatalf("ValidatePolicy: %v", err)
	}

	if diff := cmp.Diff([]string{"tcp", "udp"}, got.PassSchemes); diff != "" {
		t.Errorf("PassSchemes mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"file"}, got.SandboxSchemes); diff != "" {
		t.Errorf("SandboxSchemes mismatch (-want +got):\n%s", diff)
	}

	if len(traced) == 0 {
		t.Error("expected a debug trace for the dropped unknown scheme")
	}
}

func Test_ValidatePolicy_Rejects_Root_Outside_Sandboxed_Scheme(t *testing.T) {
	t.Parallel()

	policy := Policy{
		Root:           "net:/home/user",
		SandboxSchemes: []string{"file"},
	}

	_, err := ValidatePolicy(policy, []string{"file"}, nil)
	if err == nil {
		t.Fatal("expected an error for a root outside every sandboxed scheme")
	}

	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != ErrConfig {
		t.Errorf("expected a ConfigError kind, got %v", err)
	}
}

func Test_ValidatePolicy_Filters_Paths_To_Sandboxed_Schemes(t *testing.T) {
	t.Parallel()

	policy := Policy{
		SandboxSchemes: []string{"file"},
		Files:          []string{"file:/a", "net:/b", "file:/a"},
		RODirs:         []string{"net:/c"},
	}

	got, err := ValidatePolicy(policy, []string{"file", "net"}, nil)
	if err != nil {
		t.Fatalf("ValidatePolicy: %v", err)
	}

	if diff := cmp.Diff([]string{"file:/a"}, got.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	if len(got.RODirs) != 0 {
		t.Errorf("expected net:/c to be filtered out, got %v", got.RODirs)
	}
}
