//go:build linux

package contain

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// Supervisor owns a private mount namespace seeded with pass-through
// resources, a Filter Scheme Server per sandboxed scheme, and a worker
// goroutine that keeps the namespace's file descriptor alive until Close.
type Supervisor struct {
	ns   *mountNamespace
	root string

	resolver *Resolver
	servers  []mountedScheme

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	debugf Debugf
}

// mountedScheme pairs a sandboxed scheme name with the Filter Scheme Server
// mounted for it, so the worker's fan-in can report which scheme failed.
type mountedScheme struct {
	scheme string
	server *fuse.Server
}

// passThroughMounts maps a pass-through scheme name to the fixed host
// resource it bind-mounts into the new namespace. tcp/udp need no mount: the
// new mount namespace still shares the caller's network namespace, so socket
// schemes pass through by simply not being touched.
var passThroughMounts = map[string]string{
	"null":     "/dev/null",
	"rand":     "/dev/urandom",
	"thisproc": "/proc/self",
}

// NewSupervisor builds the sandbox namespace described by policy: a fresh
// mount namespace, pass-through bind mounts, and one Filter Scheme Server
// per sandboxed scheme. It must run on a goroutine willing to have its OS
// thread permanently locked into the new namespace — see the Runner module,
// which is the only intended caller.
func NewSupervisor(policy Policy, debugf Debugf) (*Supervisor, error) {
	runtime.LockOSThread()

	ns, err := newMountNamespace()
	if err != nil {
		runtime.UnlockOSThread()

		return nil, err
	}

	root, err := os.MkdirTemp("", "contain-")
	if err != nil {
		runtime.UnlockOSThread()

		return nil, ioErrorf("NewSupervisor", err)
	}

	for _, scheme := range policy.PassSchemes {
		target, ok := passThroughMounts[scheme]
		if !ok {
			continue
		}

		mountpoint := filepath.Join(root, "pass", scheme)
		if err := os.MkdirAll(filepath.Dir(mountpoint), 0o755); err != nil {
			runtime.UnlockOSThread()

			return nil, ioErrorf("NewSupervisor", err)
		}

		// A bind mount's mountpoint must be of the same kind as its source:
		// a directory for /proc/self, an empty file for a device node.
		mkMountpoint := func() error { return os.WriteFile(mountpoint, nil, 0o644) }
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			mkMountpoint = func() error { return os.Mkdir(mountpoint, 0o755) }
		}

		if err := mkMountpoint(); err != nil {
			runtime.UnlockOSThread()

			return nil, ioErrorf("NewSupervisor", err)
		}

		if err := bindMount(target, mountpoint, scheme == "thisproc"); err != nil {
			runtime.UnlockOSThread()

			return nil, err
		}

		debugf.logf("supervisor: bind-mounted pass-through scheme %q at %s", scheme, mountpoint)
	}

	resolver := NewResolver(policy, debugf)

	servers := make([]mountedScheme, 0, len(policy.SandboxSchemes))

	for _, scheme := range policy.SandboxSchemes {
		mountpoint := filepath.Join(root, "scheme", scheme)
		if err := os.MkdirAll(mountpoint, 0o755); err != nil {
			unmountAll(servers)
			runtime.UnlockOSThread()

			return nil, ioErrorf("NewSupervisor", err)
		}

		server, err := MountFilterScheme(scheme, mountpoint, resolver, uint32(os.Getuid()), uint32(os.Getgid()), debugf)
		if err != nil {
			unmountAll(servers)
			runtime.UnlockOSThread()

			return nil, err
		}

		servers = append(servers, mountedScheme{scheme: scheme, server: server})
	}

	s := &Supervisor{
		ns:         ns,
		root:       root,
		resolver:   resolver,
		servers:    servers,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
		debugf:     debugf,
	}

	go s.worker()

	// The thread that unshared the namespace now lives in it and must not
	// return to the goroutine scheduler's pool, so the lock is deliberately
	// not released here: the OS thread stays locked to the calling
	// goroutine, and the Go runtime discards it when that goroutine exits.
	return s, nil
}

// worker does not run an event loop of its own (each fuse.Server already
// dispatches in its own goroutines started by Mount); it selects on
// shutdownCh and a fan-in of every server's Wait, which returns when that
// server's FUSE loop exits for any reason (explicit Unmount, or a poisoned
// Filter Scheme Server forcing its own unmount after a failed credential
// restore). Either a requested shutdown or a single server failing tears
// all the others down.
func (s *Supervisor) worker() {
	defer close(s.done)
	defer runtime.UnlockOSThread()

	crashed := make(chan string, len(s.servers))

	for _, ms := range s.servers {
		go func(ms mountedScheme) {
			ms.server.Wait()

			select {
			case crashed <- ms.scheme:
			default:
			}
		}(ms)
	}

	select {
	case <-s.shutdownCh:
	case scheme := <-crashed:
		s.debugf.logf("supervisor: filter scheme server %q exited unexpectedly, tearing down", scheme)
	}

	unmountAll(s.servers)
}

// Namespace returns the file descriptor of the Supervisor's private mount
// namespace, the value a Runner's forked child setns(2)s into before exec.
func (s *Supervisor) Namespace() int {
	return int(s.ns.file.Fd())
}

// Root returns the private root directory backing this Supervisor's
// pass-through and sandboxed-scheme mountpoints.
func (s *Supervisor) Root() string {
	return s.root
}

// Resolver returns the Path Resolver backing this Supervisor's Filter Scheme
// Servers, letting tests assert on admission decisions directly.
func (s *Supervisor) Resolver() *Resolver {
	return s.resolver
}

// Close requests shutdown and waits for the worker goroutine to finish
// tearing every Filter Scheme Server down. Close is idempotent. The
// namespace file descriptor and private root directory are intentionally
// not removed here; reclaiming them is left to process exit.
func (s *Supervisor) Close() error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})

	<-s.done

	return nil
}

func unmountAll(servers []mountedScheme) {
	for _, ms := range servers {
		if err := ms.server.Unmount(); err != nil {
			_ = err // best-effort: a server that already exited need not unmount cleanly
		}
	}
}

func bindMount(source, target string, readOnly bool) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return syscallErrorf("bindMount", fmt.Errorf("bind %s -> %s: %w", source, target, err))
	}

	if readOnly {
		if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return syscallErrorf("bindMount", fmt.Errorf("remount ro %s: %w", target, err))
		}
	}

	return nil
}
