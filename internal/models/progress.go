package models

// Progress is a discrete progress update: Done of Total units completed
type Progress struct {
	Done  uint64 `json:"done"`
	Total uint64 `json:"total"`
}

// Percent returns the progress as a percentage in [0, 100]
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return 100 * float64(p.Done) / float64(p.Total)
}

// ProgressFunc receives progress updates. Implementations must not block.
type ProgressFunc func(Progress)
