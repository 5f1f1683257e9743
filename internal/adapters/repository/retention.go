package repository

import (
	"sort"
	"time"
)

// Retention decides which versions a store may delete.
type Retention struct {
	// Generations is how many committed versions are kept, the live one included.
	Generations int
	// Grace is how long a version stays after it is superseded or abandoned.
	Grace time.Duration
}

// versionState is the retention view of one stored version.
type versionState struct {
	Version     int64
	CreatedAt   time.Time
	CommittedAt time.Time // zero when uncommitted
	InFlight    bool
}

// Prunable returns the versions that may be removed at now. The live version,
// in-flight writes, the newest Generations committed versions and anything
// superseded or abandoned less than Grace ago are kept.
func (r Retention) Prunable(states []versionState, live int64, now time.Time) []int64 {
	committed := make([]versionState, 0, len(states))
	var out []int64
	for _, s := range states {
		switch {
		case s.InFlight:
		case s.CommittedAt.IsZero():
			if now.Sub(s.CreatedAt) >= r.Grace {
				out = append(out, s.Version)
			}
		default:
			committed = append(committed, s)
		}
	}
	sort.Slice(committed, func(i, j int) bool { return committed[i].Version > committed[j].Version })

	keep := max(r.Generations, 1)
	for i, s := range committed {
		if s.Version == live || i < keep {
			continue
		}
		// A version is superseded when the next newer one was committed.
		if now.Sub(committed[i-1].CommittedAt) >= r.Grace {
			out = append(out, s.Version)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
