package models

// Repository is one entry of the repositories list
type Repository struct {
	URL     string `json:"url"`
	Tag     string `json:"tag,omitempty"` // "@tag" prefix pins packages of this repository
	Comment string `json:"comment,omitempty"`
	Enabled bool   `json:"enabled"`
}

// FirstConfiguredRepo is the index slot of the first repository from the
// repositories list. Slot 0 holds the local cache and sideloaded packages.
const FirstConfiguredRepo = 1

// RepoStatus is the outcome of refreshing one repository
type RepoStatus string

const (
	RepoUpdated  RepoStatus = "updated"
	RepoUpToDate RepoStatus = "up-to-date"
	RepoFailed   RepoStatus = "failed"
)

// RepoResult reports the refresh outcome of a single repository
type RepoResult struct {
	URL      string     `json:"url"`
	Tag      string     `json:"tag,omitempty"`
	Status   RepoStatus `json:"status"`
	Packages int        `json:"packages"`
	Reason   string     `json:"reason,omitempty"`
	Err      error      `json:"-"`
}

// RefreshReport aggregates the outcome of an index refresh
type RefreshReport struct {
	Repos     []RepoResult `json:"repos"`
	Updated   int          `json:"updated"`    // repositories with a new index
	UpToDate  int          `json:"up_to_date"` // repositories whose index did not change
	Errors    int          `json:"errors"`     // repositories that failed
	Available int          `json:"available"`  // distinct package names available after refresh
}

// Success returns true if no repository failed
func (r *RefreshReport) Success() bool {
	return r.Errors == 0
}
