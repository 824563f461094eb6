package contain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_DefaultPolicy_Matches_Original_Defaults(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()

	want := []string{"rand", "null", "tcp", "udp", "thisproc"}
	if diff := cmp.Diff(want, p.PassSchemes); diff != "" {
		t.Errorf("PassSchemes mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"file"}, p.SandboxSchemes); diff != "" {
		t.Errorf("SandboxSchemes mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"file:/dev/null"}, p.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}
}

func Test_AddChroot_Sets_Root(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	p.AddChroot("file:/home/user/project")

	if p.Root != "file:/home/user/project" {
		t.Errorf("Root = %q, want %q", p.Root, "file:/home/user/project")
	}
}

func Test_AddDir_And_AddRODir_Append(t *testing.T) {
	t.Parallel()

	p := NewPolicy()
	p.AddDir("file:/tmp")
	p.AddRODir("file:/etc")

	if diff := cmp.Diff([]string{"file:/tmp"}, p.Dirs); diff != "" {
		t.Errorf("Dirs mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"file:/etc"}, p.RODirs); diff != "" {
		t.Errorf("RODirs mismatch (-want +got):\n%s", diff)
	}
}

func Test_Policy_Clone_Is_Independent(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	clone := p.clone()

	clone.Dirs = append(clone.Dirs, "file:/opt")

	if len(p.Dirs) == len(clone.Dirs) {
		t.Fatalf("mutating clone.Dirs affected original: original=%v clone=%v", p.Dirs, clone.Dirs)
	}
}
