//go:build linux

package contain

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mountNamespace is a handle to a Linux mount namespace, backed by an open
// /proc/<pid>/ns/mnt file descriptor, which is what setns(2) actually needs
// on Linux.
type mountNamespace struct {
	file *os.File
}

// newMountNamespace unshares the calling OS thread into a fresh, private
// mount namespace. A fresh Linux mount namespace starts as a copy of the
// caller's mount table, so every existing mount stays visible; the
// Supervisor adds its own mounts under a private root directory. The
// caller must have already called runtime.LockOSThread, since the new
// namespace is a property of the calling thread, not the process.
func newMountNamespace() (*mountNamespace, error) {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return nil, syscallErrorf("newMountNamespace", fmt.Errorf("unshare(CLONE_NEWNS): %w", err))
	}

	// Make every mount in the new namespace private so that subsequent
	// mounts (the Filter Scheme Server mountpoints) never propagate back
	// to the parent namespace or vice versa.
	if err := unix.Mount("none", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return nil, syscallErrorf("newMountNamespace", fmt.Errorf("mount MS_PRIVATE|MS_REC: %w", err))
	}

	f, err := os.Open(fmt.Sprintf("/proc/%d/task/%d/ns/mnt", os.Getpid(), unix.Gettid()))
	if err != nil {
		return nil, syscallErrorf("newMountNamespace", fmt.Errorf("open ns/mnt: %w", err))
	}

	return &mountNamespace{file: f}, nil
}

// enter switches the calling OS thread into ns. The caller must have
// already called runtime.LockOSThread.
func (ns *mountNamespace) enter() error {
	if err := unix.Setns(int(ns.file.Fd()), unix.CLONE_NEWNS); err != nil {
		return syscallErrorf("enter", fmt.Errorf("setns(CLONE_NEWNS): %w", err))
	}

	return nil
}

// Close releases the namespace's backing file descriptor. It does not tear
// the namespace down; the kernel frees it once its last reference (this fd,
// plus any thread still running inside it) drops.
func (ns *mountNamespace) Close() error {
	return ns.file.Close()
}
