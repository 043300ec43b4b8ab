package models

// ChangesetItem is a single package transition. OldPackage is nil for a fresh
// install, NewPackage is nil for a removal.
type ChangesetItem struct {
	OldPackage *Package `json:"old_package,omitempty"`
	NewPackage *Package `json:"new_package,omitempty"`
	Reinstall  bool     `json:"reinstall"`
}

// Name returns the package name the item operates on
func (c *ChangesetItem) Name() string {
	if c.NewPackage != nil {
		return c.NewPackage.Name
	}
	if c.OldPackage != nil {
		return c.OldPackage.Name
	}
	return ""
}

// IsInstall returns true for an item that installs a package not present before
func (c *ChangesetItem) IsInstall() bool {
	return c.OldPackage == nil && c.NewPackage != nil
}

// IsRemove returns true for an item that removes a package
func (c *ChangesetItem) IsRemove() bool {
	return c.OldPackage != nil && c.NewPackage == nil
}

// IsAdjust returns true for an item that changes the installed version
func (c *ChangesetItem) IsAdjust() bool {
	return c.OldPackage != nil && c.NewPackage != nil && c.OldPackage.Version != c.NewPackage.Version
}

// Changeset is the ordered plan produced by the solver
type Changeset struct {
	NumInstall int             `json:"num_install"`
	NumRemove  int             `json:"num_remove"`
	NumAdjust  int             `json:"num_adjust"`
	Changes    []ChangesetItem `json:"changes"`
	Reinstalls []ChangesetItem `json:"reinstalls,omitempty"` // old == new, forced by SolverReinstall
}

// NewChangeset builds a changeset from ordered items. Items that do not change
// the installed version are dropped and the counters are derived from what remains.
func NewChangeset(items []ChangesetItem) *Changeset {
	cs := &Changeset{Changes: make([]ChangesetItem, 0, len(items))}
	for _, item := range items {
		switch {
		case item.IsInstall():
			cs.NumInstall++
		case item.IsRemove():
			cs.NumRemove++
		case item.IsAdjust():
			cs.NumAdjust++
		default:
			continue
		}
		cs.Changes = append(cs.Changes, item)
	}
	return cs
}

// IsEmpty returns true if the changeset has nothing to apply
func (c *Changeset) IsEmpty() bool {
	return len(c.Changes) == 0 && len(c.Reinstalls) == 0
}

// Total returns the number of items a commit will process
func (c *Changeset) Total() int {
	return len(c.Changes) + len(c.Reinstalls)
}
