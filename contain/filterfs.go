//go:build linux

package contain

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// schemeFS is a FUSE filesystem mounted at a single scheme's intercept
// point. Every operation resolves its virtual path through a Resolver
// before touching the host filesystem. The resolution step (including host
// canonicalization) runs under the filesystem uid/gid fixed at mount time;
// the credentials are restored before the host operation itself (open,
// stat, remove, ...) runs, so that operation uses this process's identity.
type schemeFS struct {
	scheme   string
	resolver *Resolver
	uid, gid uint32
	debugf   Debugf

	// server is set once MountFilterScheme's fs.Mount call returns, letting
	// a poisoned filesystem force its own unmount so the Supervisor's
	// fan-in goroutine observes the failure.
	server *fuse.Server

	// poisoned is set once a credential restoration fails. A filesystem
	// that cannot prove it gave up borrowed credentials must refuse every
	// subsequent request rather than risk running the host thread under
	// the wrong identity.
	poisoned atomic.Bool
}

// MountFilterScheme mounts a Filter Scheme Server for scheme at mountpoint,
// forwarding admitted requests through resolver. The returned *fuse.Server
// must be Unmount()ed by the caller (the Sandbox Supervisor) during
// teardown.
func MountFilterScheme(scheme, mountpoint string, resolver *Resolver, uid, gid uint32, debugf Debugf) (*fuse.Server, error) {
	sfs := &schemeFS{scheme: scheme, resolver: resolver, uid: uid, gid: gid, debugf: debugf}

	root := &filterNode{sfs: sfs, virtualPath: "/"}

	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:        "contain." + scheme,
			Name:          "contain",
			Debug:         false,
			DisableXAttrs: true,
		},
	})
	if err != nil {
		return nil, newError(ErrSyscall, "MountFilterScheme", err)
	}

	sfs.server = server

	debugf.logf("filterfs(%s): mounted at %s", scheme, mountpoint)

	return server, nil
}

// impersonate switches the calling OS thread's filesystem uid to s.uid and
// then its filesystem gid to s.gid, until the returned restore func runs.
// The returned restore func must be deferred immediately; if it reports an
// error the scheme server is poisoned and every future request is refused.
func (s *schemeFS) impersonate() (restore func() error, err error) {
	if s.poisoned.Load() {
		return nil, newError(ErrSyscall, "impersonate", errPermissionDenied("filter scheme server is poisoned"))
	}

	runtime.LockOSThread()

	// setfsuid/setfsgid always return the previous value and never signal
	// failure directly (a caller lacking CAP_SETUID simply stays put), so
	// every switch is verified by reading the value back.
	origUID := unix.Setfsuid(-1)
	origGID := unix.Setfsgid(-1)

	unix.Setfsuid(int(s.uid))
	if got := unix.Setfsuid(-1); got != int(s.uid) {
		unix.Setfsuid(origUID)
		runtime.UnlockOSThread()

		return nil, newError(ErrSyscall, "impersonate", errPermissionDenied("setfsuid did not take effect"))
	}

	unix.Setfsgid(int(s.gid))
	if got := unix.Setfsgid(-1); got != int(s.gid) {
		unix.Setfsuid(origUID)
		unix.Setfsgid(origGID)
		runtime.UnlockOSThread()

		return nil, newError(ErrSyscall, "impersonate", errPermissionDenied("setfsgid did not take effect"))
	}

	return func() error {
		defer runtime.UnlockOSThread()

		unix.Setfsgid(origGID)
		unix.Setfsuid(origUID)

		gidBack := unix.Setfsgid(-1)
		uidBack := unix.Setfsuid(-1)

		if gidBack != origGID || uidBack != origUID {
			s.poisoned.Store(true)
			s.debugf.logf("filterfs(%s): credential restoration failed, poisoning server", s.scheme)

			if s.server != nil {
				go func() { _ = s.server.Unmount() }()
			}

			return newError(ErrSyscall, "impersonate", errPermissionDenied("credential restoration failed"))
		}

		return nil
	}, nil
}

func (s *schemeFS) resolve(virtualPath string, flags OpenFlags) (string, error) {
	restore, err := s.impersonate()
	if err != nil {
		return "", err
	}
	defer restore()

	uri, err := s.resolver.Resolve(s.scheme, virtualPath, flags)
	if err != nil {
		return "", err
	}

	_, hostPath, ok := strings.Cut(uri, ":")
	if !ok {
		return "", newError(ErrSyscall, "resolve", errInvalidArgument("malformed resource uri"))
	}

	return hostPath, nil
}

func childVirtualPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}

	return parent + "/" + name
}

// filterNode represents any path within an intercepted scheme before its
// kind (directory, regular file, or symlink) is known; Lookup and Readdir
// discover the kind by stat'ing the resolved host path under the
// impersonated identity.
type filterNode struct {
	fs.Inode

	sfs         *schemeFS
	virtualPath string
}

var _ = (fs.NodeLookuper)((*filterNode)(nil))
var _ = (fs.NodeReaddirer)((*filterNode)(nil))
var _ = (fs.NodeGetattrer)((*filterNode)(nil))
var _ = (fs.NodeMkdirer)((*filterNode)(nil))
var _ = (fs.NodeUnlinker)((*filterNode)(nil))
var _ = (fs.NodeRmdirer)((*filterNode)(nil))
var _ = (fs.NodeRenamer)((*filterNode)(nil))
var _ = (fs.NodeCreater)((*filterNode)(nil))
var _ = (fs.NodeSymlinker)((*filterNode)(nil))

func (n *filterNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	hostPath, err := n.sfs.resolve(n.virtualPath, FlagRead)
	if err != nil {
		return toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(hostPath, &st); err != nil {
		return toErrno(err)
	}

	out.Attr.FromStat(&st)

	return fs.OK
}

func (n *filterNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childVirtual := childVirtualPath(n.virtualPath, name)

	hostPath, err := n.sfs.resolve(childVirtual, FlagRead)
	if err != nil {
		return nil, toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(hostPath, &st); err != nil {
		return nil, toErrno(err)
	}

	out.Attr.FromStat(&st)

	switch st.Mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		child := &filterNode{sfs: n.sfs, virtualPath: childVirtual}

		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), fs.OK
	case syscall.S_IFLNK:
		child := &filterSymlink{sfs: n.sfs, virtualPath: childVirtual}

		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK}), fs.OK
	default:
		child := &filterFile{sfs: n.sfs, virtualPath: childVirtual}

		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), fs.OK
	}
}

func (n *filterNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	hostPath, err := n.sfs.resolve(n.virtualPath, FlagRead)
	if err != nil {
		return nil, toErrno(err)
	}

	names, err := readDirNames(hostPath)
	if err != nil {
		return nil, toErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))

	for _, name := range names {
		var st syscall.Stat_t
		if err := syscall.Lstat(hostPath+"/"+name, &st); err != nil {
			continue
		}

		entries = append(entries, fuse.DirEntry{Name: name, Mode: st.Mode})
	}

	return fs.NewListDirStream(entries), fs.OK
}

func (n *filterNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childVirtual := childVirtualPath(n.virtualPath, name)

	hostPath, err := n.sfs.resolve(childVirtual, FlagCreate|FlagReadWrite)
	if err != nil {
		return nil, toErrno(err)
	}

	if err := os.Mkdir(hostPath, os.FileMode(mode)); err != nil {
		return nil, toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(hostPath, &st); err != nil {
		return nil, toErrno(err)
	}

	out.Attr.FromStat(&st)

	child := &filterNode{sfs: n.sfs, virtualPath: childVirtual}

	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), fs.OK
}

func (n *filterNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childVirtual := childVirtualPath(n.virtualPath, name)

	hostPath, err := n.sfs.resolve(childVirtual, FlagCreate|FlagReadWrite)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	f, err := os.OpenFile(hostPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()

		return nil, nil, 0, toErrno(err)
	}

	out.Attr.FromStat(&st)

	child := &filterFile{sfs: n.sfs, virtualPath: childVirtual}
	handle := &filterFileHandle{file: f}

	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), handle, 0, fs.OK
}

func (n *filterNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childVirtual := childVirtualPath(n.virtualPath, name)

	hostPath, err := n.sfs.resolve(childVirtual, FlagCreate|FlagReadWrite)
	if err != nil {
		return nil, toErrno(err)
	}

	if err := os.Symlink(target, hostPath); err != nil {
		return nil, toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(hostPath, &st); err != nil {
		return nil, toErrno(err)
	}

	out.Attr.FromStat(&st)

	child := &filterSymlink{sfs: n.sfs, virtualPath: childVirtual}

	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK}), fs.OK
}

func (n *filterNode) Unlink(ctx context.Context, name string) syscall.Errno {
	hostPath, err := n.sfs.resolve(childVirtualPath(n.virtualPath, name), FlagReadWrite)
	if err != nil {
		return toErrno(err)
	}

	return toErrno(os.Remove(hostPath))
}

func (n *filterNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	hostPath, err := n.sfs.resolve(childVirtualPath(n.virtualPath, name), FlagReadWrite)
	if err != nil {
		return toErrno(err)
	}

	return toErrno(os.Remove(hostPath))
}

func (n *filterNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	destDir, ok := newParent.(*filterNode)
	if !ok {
		return syscall.EXDEV
	}

	oldHost, err := n.sfs.resolve(childVirtualPath(n.virtualPath, name), FlagReadWrite)
	if err != nil {
		return toErrno(err)
	}

	newHost, err := n.sfs.resolve(childVirtualPath(destDir.virtualPath, newName), FlagCreate|FlagReadWrite)
	if err != nil {
		return toErrno(err)
	}

	return toErrno(os.Rename(oldHost, newHost))
}

// filterFile is a regular file within an intercepted scheme.
type filterFile struct {
	fs.Inode

	sfs         *schemeFS
	virtualPath string
}

var _ = (fs.NodeGetattrer)((*filterFile)(nil))
var _ = (fs.NodeOpener)((*filterFile)(nil))

func (f *filterFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	hostPath, err := f.sfs.resolve(f.virtualPath, FlagRead)
	if err != nil {
		return toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Stat(hostPath, &st); err != nil {
		return toErrno(err)
	}

	out.Attr.FromStat(&st)

	return fs.OK
}

func (f *filterFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	reqFlags := FlagRead

	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		reqFlags = FlagWrite
	case syscall.O_RDWR:
		reqFlags = FlagReadWrite
	}

	hostPath, err := f.sfs.resolve(f.virtualPath, reqFlags)
	if err != nil {
		return nil, 0, toErrno(err)
	}

	osFlags := int(flags & syscall.O_ACCMODE)
	if flags&syscall.O_APPEND != 0 {
		osFlags |= syscall.O_APPEND
	}
	if flags&syscall.O_TRUNC != 0 {
		osFlags |= syscall.O_TRUNC
	}

	osFile, err := os.OpenFile(hostPath, osFlags, 0)
	if err != nil {
		return nil, 0, toErrno(err)
	}

	return &filterFileHandle{file: osFile}, 0, fs.OK
}

// filterFileHandle is an open file descriptor forwarded from the host: all
// reads and writes go straight to the already-admitted descriptor, with no
// further policy check per call.
type filterFileHandle struct {
	file *os.File
}

var _ = (fs.FileReader)((*filterFileHandle)(nil))
var _ = (fs.FileWriter)((*filterFileHandle)(nil))
var _ = (fs.FileFlusher)((*filterFileHandle)(nil))
var _ = (fs.FileReleaser)((*filterFileHandle)(nil))
var _ = (fs.FileLseeker)((*filterFileHandle)(nil))

func (h *filterFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, toErrno(err)
	}

	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *filterFileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.file.WriteAt(data, off)
	if err != nil {
		return 0, toErrno(err)
	}

	return uint32(n), fs.OK
}

func (h *filterFileHandle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(h.file.Sync())
}

func (h *filterFileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(h.file.Close())
}

func (h *filterFileHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	newOff, err := h.file.Seek(int64(off), int(whence))
	if err != nil {
		return 0, toErrno(err)
	}

	return uint64(newOff), fs.OK
}

// filterSymlink is a symbolic link within an intercepted scheme.
type filterSymlink struct {
	fs.Inode

	sfs         *schemeFS
	virtualPath string
}

var _ = (fs.NodeGetattrer)((*filterSymlink)(nil))
var _ = (fs.NodeReadlinker)((*filterSymlink)(nil))

func (s *filterSymlink) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	hostPath, err := s.sfs.resolve(s.virtualPath, FlagRead)
	if err != nil {
		return toErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(hostPath, &st); err != nil {
		return toErrno(err)
	}

	out.Attr.FromStat(&st)

	return fs.OK
}

func (s *filterSymlink) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	hostPath, err := s.sfs.resolve(s.virtualPath, FlagRead)
	if err != nil {
		return nil, toErrno(err)
	}

	target, err := os.Readlink(hostPath)
	if err != nil {
		return nil, toErrno(err)
	}

	return []byte(target), fs.OK
}

// toErrno converts an error produced by the Resolver or by a host filesystem
// call into the errno FUSE expects back.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}

	var perr *pathError
	if errors.As(err, &perr) {
		switch perr.code {
		case "PermissionDenied":
			return syscall.EACCES
		case "InvalidArgument":
			return syscall.EINVAL
		}
	}

	if pe, ok := err.(*os.PathError); ok {
		if errno, ok := pe.Err.(syscall.Errno); ok {
			return errno
		}
	}

	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}

	if os.IsNotExist(err) {
		return syscall.ENOENT
	}
	if os.IsPermission(err) {
		return syscall.EACCES
	}
	if os.IsExist(err) {
		return syscall.EEXIST
	}

	return syscall.EIO
}
