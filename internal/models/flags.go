package models

// SolverFlags tune candidate selection. Flags combine independently.
type SolverFlags uint16

const (
	SolverUpgrade        SolverFlags = 1 << iota // prefer newer candidates over installed ones
	SolverAvailable                              // do not hold packages no longer offered by any repository
	SolverLatest                                 // newest candidate must be installable for unpinned roots
	SolverReinstall                              // reinstall satisfied world packages
	SolverIgnoreConflict                         // ignore "!name" conflicts
)

// Has returns true if all bits of f are set
func (s SolverFlags) Has(f SolverFlags) bool {
	return s&f == f
}

// OpenFlags select how a database is opened
type OpenFlags uint8

const (
	OpenReadOnly  OpenFlags = 1 << iota // querying only
	OpenReadWrite                       // package manipulation
)

// UpdateFlags tune an index refresh
type UpdateFlags uint8

const (
	UpdateDefault        UpdateFlags = 0
	UpdateAllowUntrusted UpdateFlags = 1 << 0 // skip index signature verification
)

// UpgradeFlags tune a world upgrade
type UpgradeFlags uint8

const (
	UpgradeDefault   UpgradeFlags = 0
	UpgradeSimulate  UpgradeFlags = 1 << 0 // compute the plan only
	UpgradeAvailable UpgradeFlags = 1 << 1 // drop version pins, replace packages no longer available
	UpgradeLatest    UpgradeFlags = 1 << 2 // select latest unpinned versions or fail
)

// DelFlags tune a package removal
type DelFlags uint8

const (
	DelDefault  DelFlags = 0
	DelRdepends DelFlags = 1 << 0 // also stop requiring everything that depends on the package
	DelSimulate DelFlags = 1 << 1 // compute the plan only
)

// AddOptions tune a package addition
type AddOptions struct {
	Solver             SolverFlags
	Simulate           bool
	ForceNonRepository bool
	AllowUntrusted     bool
}
