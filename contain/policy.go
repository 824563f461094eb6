package contain

import "slices"

// Policy describes the resource namespace a sandboxed child is allowed to
// see: which schemes pass through untouched, which are intercepted, which
// paths under intercepted schemes are readable/writable, and an optional
// chroot-like root.
//
// Every URI field has the form "scheme:/path". A Policy is built up via the
// mutators below, then validated
// exactly once with ValidatePolicy before being handed to NewSupervisor.
// After validation, a Policy must not be mutated by any other party; the
// Supervisor only ever takes a shared-reader view of it.
type Policy struct {
	// Root, if set, names a canonical directory URI under an intercepted
	// scheme. Requests that resolve outside Root are relocated under it.
	Root string

	// PassSchemes lists scheme names whose resources pass through the new
	// namespace untouched.
	PassSchemes []string

	// SandboxSchemes lists scheme names for which a Filter Scheme Server
	// will be installed.
	SandboxSchemes []string

	// Files is the set of exact canonical URIs permitted read-write.
	Files []string

	// Dirs is the set of canonical URI prefixes permitted read-write.
	Dirs []string

	// ROFiles is the set of exact canonical URIs permitted read-only.
	ROFiles []string

	// RODirs is the set of canonical URI prefixes permitted read-only.
	RODirs []string
}

// NewPolicy returns the zero-value Policy: no schemes pass through, nothing
// is sandboxed, nothing is allowed. Callers normally want DefaultPolicy
// instead.
func NewPolicy() Policy {
	return Policy{}
}

// DefaultPolicy returns a Policy with sensible defaults, ported from the
// original's ContainConfig::use_defaults: the common pass-through schemes, a
// sandboxed "file" scheme, /dev/null and /bin allowed read-write, and a
// small read-only allowlist for passwd/hostname/tmp.
func DefaultPolicy() Policy {
	return Policy{
		PassSchemes:    []string{"rand", "null", "tcp", "udp", "thisproc"},
		SandboxSchemes: []string{"file"},
		Files:          []string{"file:/dev/null"},
		Dirs:           []string{"file:/bin"},
		ROFiles:        []string{"file:/etc/passwd", "file:/etc/hostname", "file:/tmp"},
		RODirs:         []string{"file:/bin"},
	}
}

// AddChroot sets the chroot root. root must be a canonical URI under a
// scheme that will be in SandboxSchemes once validated; ValidatePolicy
// rejects it otherwise.
func (p *Policy) AddChroot(root string) {
	p.Root = root
}

// AddDir appends a read-write directory prefix to the policy.
func (p *Policy) AddDir(dir string) {
	p.Dirs = append(p.Dirs, dir)
}

// AddRODir appends a read-only directory prefix to the policy.
func (p *Policy) AddRODir(rodir string) {
	p.RODirs = append(p.RODirs, rodir)
}

// clone returns a deep copy so the Supervisor can own a snapshot independent
// of whatever the caller does with their Policy value afterward.
func (p Policy) clone() Policy {
	return Policy{
		Root:           p.Root,
		PassSchemes:    slices.Clone(p.PassSchemes),
		SandboxSchemes: slices.Clone(p.SandboxSchemes),
		Files:          slices.Clone(p.Files),
		Dirs:           slices.Clone(p.Dirs),
		ROFiles:        slices.Clone(p.ROFiles),
		RODirs:         slices.Clone(p.RODirs),
	}
}
