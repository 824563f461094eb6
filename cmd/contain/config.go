package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/redox-os/contain/contain"
)

// PolicyFile is the on-disk JSON/JSONC shape of a Policy: human-editable
// config with comments and trailing commas via hujson, decoded strictly so
// typos in field names fail loudly instead of silently no-oping.
type PolicyFile struct {
	Root           string   `json:"root,omitempty"`
	PassSchemes    []string `json:"pass_schemes,omitempty"`
	SandboxSchemes []string `json:"sandbox_schemes,omitempty"`
	Files          []string `json:"files,omitempty"`
	Dirs           []string `json:"dirs,omitempty"`
	ROFiles        []string `json:"rofiles,omitempty"`
	RODirs         []string `json:"rodirs,omitempty"`
}

// LoadPolicyFile reads and parses a policy file at path, tolerating JSONC
// comments/trailing commas via hujson.Standardize and rejecting unknown
// fields, exactly as a JSONC config loader commonly does for its own config
// format.
func LoadPolicyFile(path string) (contain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contain.Policy{}, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return contain.Policy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	var pf PolicyFile

	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&pf); err != nil {
		return contain.Policy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	policy := contain.NewPolicy()
	policy.Root = pf.Root
	policy.PassSchemes = pf.PassSchemes
	policy.SandboxSchemes = pf.SandboxSchemes
	policy.Files = pf.Files
	policy.Dirs = pf.Dirs
	policy.ROFiles = pf.ROFiles
	policy.RODirs = pf.RODirs

	return policy, nil
}

// applyCLIOverrides layers --dir/--rodir CLI flags on top of a loaded (or
// default) policy, the common CLI-overrides-config-file layering.
func applyCLIOverrides(policy *contain.Policy, dirs, rodirs []string) {
	for _, d := range dirs {
		policy.AddDir(d)
	}

	for _, d := range rodirs {
		policy.AddRODir(d)
	}
}
