package trialstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
//
// Lifecycle: a producer creates a job in StatusQueued; the claim protocol is
// the only way a job leaves StatusQueued (QUEUED -> INITIALIZING, via
// compare-and-swap); the claiming worker then owns it through
// INITIALIZING -> RUNNING -> {COMPLETED, FAILED}. Terminal states are
// immutable except for optimizer-attached auxiliary info.
type Status string

const (
	// StatusQueued means the job is waiting for a worker to claim it.
	StatusQueued Status = "QUEUED"

	// StatusInitializing means a worker has won the claim and is validating
	// compatibility before execution.
	StatusInitializing Status = "INITIALIZING"

	// StatusRunning means the trial subprocess is executing. The owning
	// worker updates the heartbeat while in this state.
	StatusRunning Status = "RUNNING"

	// StatusCompleted means the trial finished and recorded a result.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means the trial terminated without a usable result.
	StatusFailed Status = "FAILED"
)

// IsValid reports whether s is one of the defined lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusInitializing, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Config is one trial's parameter assignment: parameter name to value.
type Config map[string]any

// SourceFile identifies one source file of the experiment by name and
// content digest. Workers refuse jobs whose sources differ from their own.
type SourceFile struct {
	Filename string `json:"filename"`
	Digest   string `json:"digest"`
}

// Dependency is one versioned dependency of the experiment.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ExperimentInfo describes the experiment a job belongs to. It is recorded
// on every job at enqueue time and checked against the claiming worker's own
// info before execution.
type ExperimentInfo struct {
	Name         string       `json:"name"`
	Sources      []SourceFile `json:"sources"`
	Dependencies []Dependency `json:"dependencies"`
}

// Job is one trial record in the store.
//
// Result is nil until the job completes. A completed result is either a bare
// number (float64 after JSON decoding) or a structured document carrying the
// designated optimization target field; scalarization of either shape is the
// aggregator's concern, not the store's.
type Job struct {
	ID          string         `json:"id"`                 // UUID, store-assigned, immutable
	Status      Status         `json:"status"`             // Lifecycle state
	Command     string         `json:"command"`            // Trial command to execute
	Config      Config         `json:"config"`             // Parameter assignment for this trial
	Result      any            `json:"result,omitempty"`   // Present only when COMPLETED
	HeartbeatMs int64          `json:"heartbeat_ms"`       // Unix ms, non-decreasing while RUNNING
	CreatedAtMs int64          `json:"created_at_ms"`      // Unix ms at insert time
	Experiment  ExperimentInfo `json:"experiment"`         // Producer's experiment identity
	SpaceID     string         `json:"space_id,omitempty"` // Search space this config was drawn from
	Info        map[string]any `json:"info,omitempty"`     // Optimizer-attached auxiliary info
}

// Validate checks the structural validity of a job before it is written.
func (j *Job) Validate() error {
	if j.ID != "" {
		if _, err := uuid.Parse(j.ID); err != nil {
			return fmt.Errorf("job id must be a valid UUID: %w", err)
		}
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("invalid job status: %q", j.Status)
	}
	if j.Command == "" {
		return fmt.Errorf("job command cannot be empty")
	}
	if j.Config == nil {
		return fmt.Errorf("job config cannot be nil")
	}
	if j.Experiment.Name == "" {
		return fmt.Errorf("job experiment name cannot be empty")
	}
	return nil
}

// Heartbeat returns the job's heartbeat as a time.Time.
func (j *Job) Heartbeat() time.Time {
	return time.UnixMilli(j.HeartbeatMs)
}

// SpaceRecord is the persisted form of a search space: an opaque canonical
// payload plus the fingerprint used for structural-equality lookup. Typed
// decoding of Payload happens at the registry boundary, never inside the
// store client.
type SpaceRecord struct {
	ID          string `json:"id"`          // UUID, store-assigned
	Fingerprint string `json:"fingerprint"` // sha256 of the canonical payload
	Payload     string `json:"payload"`     // Canonical JSON definition
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Validate checks the structural validity of a space record.
func (r *SpaceRecord) Validate() error {
	if r.ID != "" {
		if _, err := uuid.Parse(r.ID); err != nil {
			return fmt.Errorf("space id must be a valid UUID: %w", err)
		}
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("space fingerprint cannot be empty")
	}
	if r.Payload == "" {
		return fmt.Errorf("space payload cannot be empty")
	}
	return nil
}
