package contain

import (
	"testing"
)

func identityCanonicalize(p string) (string, error) { return p, nil }

func testPolicy() Policy {
	return Policy{
		Root:    "",
		Files:   []string{"file:/dev/null"},
		Dirs:    []string{"file:/bin"},
		ROFiles: []string{"file:/etc/passwd"},
		RODirs:  []string{"file:/usr"},
	}
}

func newTestResolver(policy Policy) *Resolver {
	r := NewResolver(policy, nil)
	r.canonicalize = identityCanonicalize

	return r
}

func Test_Resolve_Admits_Allowed_Directory(t *testing.T) {
	t.Parallel()

	r := newTestResolver(testPolicy())

	uri, err := r.Resolve("file", "/bin/ls", FlagRead)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if uri != "file:/bin/ls" {
		t.Errorf("uri = %q, want %q", uri, "file:/bin/ls")
	}
}

func Test_Resolve_Denies_Write_To_Readonly_Dir(t *testing.T) {
	t.Parallel()

	r := newTestResolver(testPolicy())

	_, err := r.Resolve("file", "/usr/local/bin/x", FlagWrite)
	if err == nil {
		t.Fatal("expected write to a read-only dir to be denied")
	}
}

func Test_Resolve_Rejects_DotDot_Traversal(t *testing.T) {
	t.Parallel()

	r := newTestResolver(testPolicy())

	_, err := r.Resolve("file", "/bin/../etc/shadow", FlagRead)
	if err == nil {
		t.Fatal("expected a path containing .. to be rejected")
	}
}

func Test_Resolve_Denies_Path_Outside_Allowlists_With_No_Root(t *testing.T) {
	t.Parallel()

	r := newTestResolver(testPolicy())

	_, err := r.Resolve("file", "/home/user/secret", FlagRead)
	if err == nil {
		t.Fatal("expected a path with no root and no matching allowlist entry to be denied")
	}
}

func Test_Resolve_Rewrites_Disallowed_Path_Under_Chroot_Root(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.Root = "file:/home/user/project"

	r := newTestResolver(policy)

	uri, err := r.Resolve("file", "/etc/shadow", FlagRead)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := "file:/home/user/project/etc/shadow"
	if uri != want {
		t.Errorf("uri = %q, want %q", uri, want)
	}
}

func Test_Resolve_Rejects_Reentering_Chroot_Root(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.Root = "file:/home/user/project"

	r := newTestResolver(policy)

	_, err := r.Resolve("file", "/home/user/project/x", FlagRead)
	if err == nil {
		t.Fatal("expected a path naming the chroot root by its external path to be rejected")
	}
}

func Test_Resolve_Create_Admits_Under_Allowed_Directory(t *testing.T) {
	t.Parallel()

	r := newTestResolver(testPolicy())

	uri, err := r.Resolve("file", "/bin/newfile", FlagCreate|FlagReadWrite)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if uri != "file:/bin/newfile" {
		t.Errorf("uri = %q, want %q", uri, "file:/bin/newfile")
	}
}

func Test_Resolve_Create_Denied_Outside_Allowed_Directory(t *testing.T) {
	t.Parallel()

	policy := testPolicy()
	policy.Root = ""

	r := newTestResolver(policy)

	_, err := r.Resolve("file", "/opt/newfile", FlagCreate|FlagReadWrite)
	if err == nil {
		t.Fatal("expected creation outside every allowed directory to be denied")
	}
}

func Test_Admitted_Matches_Exact_File_And_Dir_Prefix(t *testing.T) {
	t.Parallel()

	policy := testPolicy()

	if !admitted("file:/dev/null", policy, FlagRead) {
		t.Error("expected exact file match to be admitted")
	}

	if !admitted("file:/bin/sh", policy, FlagReadWrite) {
		t.Error("expected dir-prefix match to be admitted for read-write")
	}

	if admitted("file:/dev/random", policy, FlagRead) {
		t.Error("expected a non-matching file to be denied")
	}
}

func Test_ContainsDotDotSegment(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"/a/b/c":    false,
		"/a/../b":   true,
		"/a/b/..":   true,
		"..":        true,
		"/a/b.._c":  false,
		"":          false,
	}

	for path, want := range cases {
		if got := containsDotDotSegment(path); got != want {
			t.Errorf("containsDotDotSegment(%q) = %v, want %v", path, got, want)
		}
	}
}
