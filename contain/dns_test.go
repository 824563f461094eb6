package contain

import "testing"

func Test_PreserveDNS_NoOp_When_File_Scheme_Not_Sandboxed(t *testing.T) {
	t.Parallel()

	policy := Policy{SandboxSchemes: []string{"net"}}

	PreserveDNS(&policy, nil)

	if len(policy.RODirs) != 0 {
		t.Errorf("expected no RODirs added, got %v", policy.RODirs)
	}
}

func Test_PreserveDNS_NoOp_When_Resolv_Conf_Not_A_Run_Symlink(t *testing.T) {
	t.Parallel()

	policy := Policy{SandboxSchemes: []string{"file"}}

	before := len(policy.RODirs)

	PreserveDNS(&policy, nil)

	// On most CI/container hosts /etc/resolv.conf is a regular file, not a
	// systemd-resolved symlink into /run, so this should be a no-op; when it
	// is such a symlink the assertion below does not apply.
	if _, ok := resolvConfSymlinkTarget(nil); !ok && len(policy.RODirs) != before {
		t.Errorf("expected no RODirs added when resolv.conf isn't a /run symlink, got %v", policy.RODirs)
	}
}
