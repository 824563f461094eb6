package contain

// OpenFlags is a bitmask describing the intent of a resource request. Only
// the bits the admission predicate and the creation-mode branch of the
// resolver actually inspect are named here.
type OpenFlags uint32

const (
	// FlagRead requests read access.
	FlagRead OpenFlags = 1 << iota
	// FlagWrite requests write-only access.
	FlagWrite
	// FlagReadWrite requests combined read-write access.
	FlagReadWrite
	// FlagCreate requests that a missing file be created.
	FlagCreate
)

// writeBearing reports whether f carries write or read-write intent, the
// test the admission predicate uses to decide whether the read-only
// allowlists (ROFiles/RODirs) may satisfy the request.
func (f OpenFlags) writeBearing() bool {
	return f&(FlagWrite|FlagReadWrite) != 0
}
