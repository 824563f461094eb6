package contain

import (
	"sort"
	"strings"
)

// Debugf receives diagnostic messages from policy validation, path
// resolution, and the supervisor's setup. It is a side channel: its absence
// (a nil Debugf) must never change behavior, only remove the trace output.
type Debugf func(format string, args ...any)

func (d Debugf) logf(format string, args ...any) {
	if d != nil {
		d(format, args...)
	}
}

// ValidatePolicy reconciles a raw Policy against knownSchemes, the set of
// scheme names actually available on the host (see ListSchemes), and
// returns a Policy safe to share immutably for the lifetime of a Supervisor.
//
// It sort+dedups the two scheme sets, silently drops schemes the host
// doesn't know about, fails if a configured chroot root isn't under a
// sandboxed scheme, then sort+dedup+filters the four path sets to only
// those whose scheme is sandboxed. ValidatePolicy never touches the
// filesystem; it is pure lexical and set arithmetic over the Policy's
// string fields.
func ValidatePolicy(policy Policy, knownSchemes []string, debugf Debugf) (Policy, error) {
	out := policy.clone()

	known := make(map[string]struct{}, len(knownSchemes))
	for _, s := range knownSchemes {
		known[s] = struct{}{}
	}

	out.PassSchemes = dedupKnown(out.PassSchemes, known, debugf)
	out.SandboxSchemes = dedupKnown(out.SandboxSchemes, known, debugf)

	if out.Root != "" {
		rootOK := false

		for _, scheme := range out.SandboxSchemes {
			if strings.HasPrefix(out.Root, scheme+":") {
				rootOK = true

				break
			}
		}

		if !rootOK {
			return Policy{}, configErrorf("ValidatePolicy", "root %q is not in a sandboxed scheme", out.Root)
		}
	}

	sandboxed := make(map[string]struct{}, len(out.SandboxSchemes))
	for _, s := range out.SandboxSchemes {
		sandboxed[s] = struct{}{}
	}

	out.Files = filterBySandboxedScheme(out.Files, sandboxed)
	out.Dirs = filterBySandboxedScheme(out.Dirs, sandboxed)
	out.ROFiles = filterBySandboxedScheme(out.ROFiles, sandboxed)
	out.RODirs = filterBySandboxedScheme(out.RODirs, sandboxed)

	debugf.logf("validated policy: pass=%v sandbox=%v files=%d dirs=%d rofiles=%d rodirs=%d",
		out.PassSchemes, out.SandboxSchemes, len(out.Files), len(out.Dirs), len(out.ROFiles), len(out.RODirs))

	return out, nil
}

// dedupKnown sorts and deduplicates schemes, then drops any not present in
// known. Dropped schemes are a diagnostic trace, never an error.
func dedupKnown(schemes []string, known map[string]struct{}, debugf Debugf) []string {
	sorted := append([]string(nil), schemes...)
	sort.Strings(sorted)

	out := make([]string, 0, len(sorted))

	var prev string

	for i, s := range sorted {
		if i > 0 && s == prev {
			continue
		}

		prev = s

		if _, ok := known[s]; !ok {
			debugf.logf("scheme %q is not recognized by the host, dropping", s)

			continue
		}

		out = append(out, s)
	}

	return out
}

// filterBySandboxedScheme sorts, deduplicates, and retains only URIs whose
// scheme prefix ("scheme:") is in sandboxed.
func filterBySandboxedScheme(uris []string, sandboxed map[string]struct{}) []string {
	sorted := append([]string(nil), uris...)
	sort.Strings(sorted)

	out := make([]string, 0, len(sorted))

	var prev string

	for i, u := range sorted {
		if i > 0 && u == prev {
			continue
		}

		prev = u

		scheme, _, found := strings.Cut(u, ":")
		if !found {
			continue
		}

		if _, ok := sandboxed[scheme]; ok {
			out = append(out, u)
		}
	}

	return out
}

// builtinSchemes are the schemes this package understands how to realize on
// Linux without any further registration.
var builtinSchemes = []string{"file", "null", "rand", "tcp", "udp", "thisproc"}

// ListSchemes reports the schemes known to this host. It always includes
// builtinSchemes, plus any scheme registered by convention under
// schemeRegistryDir (a file named after the scheme, analogous to Redox's
// dynamic, kernel-maintained scheme table: embedding tools can add a scheme
// this core doesn't special-case simply by creating the marker file).
func ListSchemes(schemeRegistryDir string) ([]string, error) {
	schemes := append([]string(nil), builtinSchemes...)

	if schemeRegistryDir == "" {
		return schemes, nil
	}

	entries, err := readDirNames(schemeRegistryDir)
	if err != nil {
		// A missing or unreadable registry directory is not fatal: it simply
		// means no additional schemes are registered.
		return schemes, nil
	}

	schemes = append(schemes, entries...)

	return schemes, nil
}
