package model

import "time"

// Trigger identifies what started a sync cycle.
type Trigger string

// Trigger sources.
const (
	TriggerTimer     Trigger = "timer"
	TriggerAPI       Trigger = "api"
	TriggerCLI       Trigger = "cli"
	TriggerStaleRead Trigger = "stale_read"
)

// SyncState is the coordinator state a run was last observed in.
type SyncState string

// Coordinator states.
const (
	StateIdle       SyncState = "idle"
	StateRunning    SyncState = "running"
	StateCommitting SyncState = "committing"
	StateFailed     SyncState = "failed"
	StateDone       SyncState = "done"
)

// Outcome summarizes a finished run.
type Outcome string

// Run outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// CategoryReport holds per-category counters for one run.
type CategoryReport struct {
	Fetched        int    `json:"fetched"`
	Published      int    `json:"published"`
	Skipped        int    `json:"skipped"`
	CarriedForward bool   `json:"carried_forward,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SyncRun is the metadata of one sync cycle.
type SyncRun struct {
	ID         string                      `json:"id"`
	Trigger    Trigger                     `json:"trigger"`
	State      SyncState                   `json:"state"`
	Outcome    Outcome                     `json:"outcome,omitempty"`
	StartedAt  time.Time                   `json:"started_at"`
	EndedAt    time.Time                   `json:"ended_at,omitempty"`
	Version    int64                       `json:"version,omitempty"`
	Categories map[Category]CategoryReport `json:"categories"`
	Error      string                      `json:"error,omitempty"`
}

// Finished reports whether the run has ended.
func (r SyncRun) Finished() bool {
	return !r.EndedAt.IsZero()
}

// Skipped returns the total number of records skipped by the transformer.
func (r SyncRun) Skipped() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Skipped
	}
	return n
}

// Clone returns a copy that shares no maps with r.
func (r SyncRun) Clone() SyncRun {
	out := r
	out.Categories = make(map[Category]CategoryReport, len(r.Categories))
	for k, v := range r.Categories {
		out.Categories[k] = v
	}
	return out
}
