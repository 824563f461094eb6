package contain

import (
	"os"
	"path/filepath"
	"strings"
)

// resolvConfSymlinkTarget preserves DNS resolution when /etc/resolv.conf is
// a symlink into /run (common with systemd-resolved): if a Policy chroots
// the "file" scheme's root elsewhere, /etc/resolv.conf's target directory
// would otherwise fall outside every admitted path and resolution inside
// the sandbox would silently break. It reports the host directory that must
// stay read-only-admitted for the symlink to keep resolving, or ok=false if
// resolv.conf isn't such a symlink.
func resolvConfSymlinkTarget(debugf Debugf) (dir string, ok bool) {
	const resolvConf = "/etc/resolv.conf"

	linkTarget, err := os.Readlink(resolvConf)
	if err != nil {
		return "", false
	}

	resolvedPath := linkTarget
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(filepath.Dir(resolvConf), resolvedPath)
	}

	resolvedPath = filepath.Clean(resolvedPath)
	if resolvedPath == "/run" || !strings.HasPrefix(resolvedPath, "/run/") {
		return "", false
	}

	parentDir := filepath.Dir(resolvedPath)
	if parentDir == "" || parentDir == "/" || parentDir == "/run" {
		return "", false
	}

	info, err := os.Stat(parentDir)
	if err != nil || !info.IsDir() {
		return "", false
	}

	debugf.logf("dns: resolv.conf is symlink to %q (resolved=%q); admitting %q read-only", linkTarget, resolvedPath, parentDir)

	return parentDir, true
}

// PreserveDNS appends a read-only allowlist entry for policy's "file" scheme
// covering resolv.conf's symlink target, if needed, so a chrooted sandbox
// still resolves host names. It is a no-op if resolv.conf isn't a symlink
// into /run, or if "file" is not a sandboxed scheme.
func PreserveDNS(policy *Policy, debugf Debugf) {
	hasFileScheme := false

	for _, scheme := range policy.SandboxSchemes {
		if scheme == "file" {
			hasFileScheme = true

			break
		}
	}

	if !hasFileScheme {
		return
	}

	dir, ok := resolvConfSymlinkTarget(debugf)
	if !ok {
		return
	}

	policy.AddRODir("file:" + dir)
}
