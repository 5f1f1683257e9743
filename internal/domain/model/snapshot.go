package model

import "time"

// SnapshotInfo describes one committed generation of entities.
type SnapshotInfo struct {
	Version     int64            `json:"version"`
	RunID       string           `json:"run_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CommittedAt time.Time        `json:"committed_at"`
	Counts      map[Category]int `json:"counts"`
}

// Age reports how long ago the snapshot was committed.
func (s SnapshotInfo) Age(now time.Time) time.Duration {
	if s.CommittedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CommittedAt)
}

// Total sums entity counts across categories.
func (s SnapshotInfo) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}
