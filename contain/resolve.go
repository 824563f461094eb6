package contain

import (
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Resolver decides, for an intercepted scheme and a path as received from a
// Filter Scheme Server, whether to admit the request and, if so, produces
// the canonical resource URI to forward.
//
// A Resolver holds a shared-reader reference to the validated Policy it was
// built from. Multiple Filter Scheme Servers read it concurrently; the only
// writer is the caller-supplied Update, which must not be invoked once the
// Supervisor's worker has dispatched its first request.
type Resolver struct {
	mu     sync.RWMutex
	policy Policy
	debugf Debugf

	// canonicalize resolves symlinks and collapses "." for a real host path.
	// Overridable in tests so resolution doesn't depend on an actual
	// filesystem layout.
	canonicalize func(string) (string, error)
}

// NewResolver returns a Resolver over a validated policy.
func NewResolver(policy Policy, debugf Debugf) *Resolver {
	return &Resolver{policy: policy, debugf: debugf, canonicalize: filepath.EvalSymlinks}
}

// Update replaces the Resolver's policy. Must only be called before the
// Supervisor's worker starts dispatching requests.
func (r *Resolver) Update(policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.policy = policy
}

func (r *Resolver) snapshot() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.policy
}

// Resolve runs the six-step decision procedure that turns a scheme-relative
// path into a canonical, policy-checked resource URI.
// scheme is the intercepted scheme handling the request; rawPath is the path
// argument as received (may or may not have a leading slash); flags
// describes the operation's intent.
//
// On admission, Resolve returns the canonical resource URI ("scheme:/...")
// that the caller should forward to the host filesystem. On denial, it
// returns a *Error with Kind ErrSyscall wrapping one of the two denial
// reasons below: InvalidArgument-style lexical rejections, or
// PermissionDenied-style admission failures.
func (r *Resolver) Resolve(scheme, rawPath string, flags OpenFlags) (string, error) {
	policy := r.snapshot()

	// Step 1: reject traversal lexically, before canonicalization is trusted.
	if containsDotDotSegment(rawPath) {
		r.debugf.logf("resolve(%s): path %q contains .. segment", scheme, rawPath)

		return "", newError(ErrSyscall, "Resolve", errInvalidArgument("path contains .. segment"))
	}

	trimmed := strings.TrimLeft(rawPath, "/")

	// Step 2: forbid re-entering root via the externally-visible path.
	if policy.Root != "" {
		naturalURI := scheme + ":/" + trimmed
		if strings.HasPrefix(naturalURI, policy.Root) {
			r.debugf.logf("resolve(%s): path %q re-enters chroot root %q", scheme, rawPath, policy.Root)

			return "", newError(ErrSyscall, "Resolve", errInvalidArgument("path re-enters chroot root"))
		}
	}

	// Step 3: form the natural URI.
	uri := scheme + ":/" + trimmed

	// Step 4: chroot rewrite if the natural URI wouldn't otherwise be admitted.
	if policy.Root != "" && !admitted(uri, policy, flags) {
		uri = policy.Root + "/" + trimmed
		r.debugf.logf("resolve(%s): %q rewritten under chroot root to %q", scheme, rawPath, uri)

		if flags&FlagCreate != 0 {
			return r.resolveCreate(uri, policy, true)
		}

		canon, err := r.canonicalizeURI(uri)
		if err != nil {
			return "", err
		}
		// Chroot-rewritten paths are trusted by construction; admission is
		// not re-checked.
		return canon, nil
	}

	if flags&FlagCreate != 0 {
		return r.resolveCreate(uri, policy, false)
	}

	return r.resolveExisting(uri, policy, flags)
}

// resolveExisting implements step 5: canonicalize the full URI via the host
// and re-check admission against the canonical form.
func (r *Resolver) resolveExisting(uri string, policy Policy, flags OpenFlags) (string, error) {
	canon, err := r.canonicalizeURI(uri)
	if err != nil {
		return "", err
	}

	if !admitted(canon, policy, flags) {
		r.debugf.logf("resolve: %q denied (not admitted)", canon)

		return "", newError(ErrSyscall, "Resolve", errPermissionDenied("path not admitted by policy"))
	}

	return canon, nil
}

// resolveCreate implements step 6: canonicalize only the parent directory,
// admit it under read-write rules, then rejoin with the final component.
// rewritten indicates uri has already been chroot-rewritten and its
// directory is trusted without a further admission check.
func (r *Resolver) resolveCreate(uri string, policy Policy, rewritten bool) (string, error) {
	scheme, subpath, ok := strings.Cut(uri, ":/")
	if !ok {
		return "", newError(ErrSyscall, "Resolve", errInvalidArgument("malformed resource uri"))
	}

	dir := path.Dir(subpath)
	base := path.Base(subpath)

	dirURI := scheme + ":/" + strings.TrimPrefix(dir, "/")

	canonDir, err := r.canonicalizeURI(dirURI)
	if err != nil {
		return "", err
	}

	if !rewritten && !admitted(canonDir, policy, FlagReadWrite) {
		r.debugf.logf("resolve: create under %q denied (directory not admitted)", canonDir)

		return "", newError(ErrSyscall, "Resolve", errPermissionDenied("target directory not admitted by policy"))
	}

	return strings.TrimSuffix(canonDir, "/") + "/" + base, nil
}

// canonicalizeURI canonicalizes the host path embedded in uri via the host
// filesystem, preserving the scheme prefix.
func (r *Resolver) canonicalizeURI(uri string) (string, error) {
	scheme, subpath, ok := strings.Cut(uri, ":/")
	if !ok {
		return "", newError(ErrSyscall, "Resolve", errInvalidArgument("malformed resource uri"))
	}

	hostPath := "/" + subpath

	canon, err := r.canonicalize(hostPath)
	if err != nil {
		return "", newError(ErrSyscall, "Resolve", errPermissionDenied("cannot canonicalize path"))
	}

	return scheme + ":" + canon, nil
}

// admitted reports whether a canonical resource URI falls under the
// policy's chroot root, explicit allowlist entries, or pass-through
// schemes, honoring the read/write split between the rw and ro lists.
func admitted(uri string, policy Policy, flags OpenFlags) bool {
	if policy.Root != "" && strings.HasPrefix(uri, policy.Root) {
		return true
	}

	for _, f := range policy.Files {
		if uri == f {
			return true
		}
	}

	for _, d := range policy.Dirs {
		if strings.HasPrefix(uri, d) {
			return true
		}
	}

	// Pass-through schemes never actually reach a Filter Scheme Server's
	// resolver, so this check is expected to be unreachable in practice.
	// Kept anyway since a future caller could route a pass-through scheme
	// through Resolve and should see it admitted rather than denied.
	for _, s := range policy.PassSchemes {
		if strings.HasPrefix(uri, s) {
			return true
		}
	}

	if !flags.writeBearing() {
		for _, f := range policy.ROFiles {
			if uri == f {
				return true
			}
		}

		for _, d := range policy.RODirs {
			if strings.HasPrefix(uri, d) {
				return true
			}
		}
	}

	return false
}

// containsDotDotSegment reports whether p contains ".." as a path component,
// or ends with "..", regardless of leading/trailing slashes.
func containsDotDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}

	return strings.HasSuffix(p, "..")
}

type pathError struct {
	code string
	msg  string
}

func (e *pathError) Error() string { return e.code + ": " + e.msg }

func errInvalidArgument(msg string) error { return &pathError{code: "InvalidArgument", msg: msg} }
func errPermissionDenied(msg string) error {
	return &pathError{code: "PermissionDenied", msg: msg}
}
