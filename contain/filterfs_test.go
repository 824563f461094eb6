//go:build linux

package contain

import (
	"os"
	"syscall"
	"testing"
)

func Test_ToErrno_Maps_Resolver_Denials(t *testing.T) {
	t.Parallel()

	if got := toErrno(newError(ErrSyscall, "Resolve", errPermissionDenied("denied"))); got != syscall.EACCES {
		t.Errorf("got %v, want EACCES", got)
	}

	if got := toErrno(newError(ErrSyscall, "Resolve", errInvalidArgument("bad"))); got != syscall.EINVAL {
		t.Errorf("got %v, want EINVAL", got)
	}
}

func Test_ToErrno_Maps_Host_Errors(t *testing.T) {
	t.Parallel()

	notExist := &os.PathError{Op: "stat", Path: "/nope", Err: syscall.ENOENT}
	if got := toErrno(notExist); got != syscall.ENOENT {
		t.Errorf("got %v, want ENOENT", got)
	}

	if got := toErrno(nil); got != 0 {
		t.Errorf("got %v, want OK (0)", got)
	}
}

func Test_ChildVirtualPath_Joins_Under_Root_And_Subdirs(t *testing.T) {
	t.Parallel()

	if got := childVirtualPath("/", "etc"); got != "/etc" {
		t.Errorf("got %q, want %q", got, "/etc")
	}

	if got := childVirtualPath("/etc", "passwd"); got != "/etc/passwd" {
		t.Errorf("got %q, want %q", got, "/etc/passwd")
	}
}
