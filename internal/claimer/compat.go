package claimer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tunelab/sweep/pkg/trialstore"
)

// DependencyPolicy controls how a worker compares its dependency versions
// against the versions recorded on a claimed job.
type DependencyPolicy string

const (
	// DependencyNewer accepts jobs whose recorded dependency versions are
	// equal to or older than the worker's own.
	DependencyNewer DependencyPolicy = "newer"

	// DependencyEqual requires exact version equality.
	DependencyEqual DependencyPolicy = "equal"

	// DependencyIgnore skips dependency validation entirely.
	DependencyIgnore DependencyPolicy = "ignore"
)

// IsValid reports whether p is a defined policy.
func (p DependencyPolicy) IsValid() bool {
	switch p {
	case DependencyNewer, DependencyEqual, DependencyIgnore:
		return true
	}
	return false
}

// Mismatch names one field on which a claimed job and the local worker
// disagree.
type Mismatch struct {
	Field string // "name", "source:<file>", "dependency:<name>"
	Local string
	Job   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: worker has %q, job has %q", m.Field, m.Local, m.Job)
}

// IncompatibleJobError reports that a claimed job cannot run on this worker.
// It lists every mismatched field so the operator can see at a glance
// whether the worker is stale or the queue producer is.
type IncompatibleJobError struct {
	JobID      string
	Mismatches []Mismatch
}

func (e *IncompatibleJobError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Sprintf("job %s is incompatible with this worker: %s",
		e.JobID, strings.Join(parts, "; "))
}

// CheckCompatibility validates a claimed job's experiment identity against
// the local worker's. Experiment name and source digests are compared
// strictly; dependency versions are compared per policy.
func CheckCompatibility(jobID string, local, job trialstore.ExperimentInfo, policy DependencyPolicy) error {
	var mismatches []Mismatch

	if local.Name != job.Name {
		mismatches = append(mismatches, Mismatch{Field: "name", Local: local.Name, Job: job.Name})
	}

	mismatches = append(mismatches, compareSources(local.Sources, job.Sources)...)

	if policy != DependencyIgnore {
		mismatches = append(mismatches, compareDependencies(local.Dependencies, job.Dependencies, policy)...)
	}

	if len(mismatches) > 0 {
		return &IncompatibleJobError{JobID: jobID, Mismatches: mismatches}
	}
	return nil
}

// compareSources requires the two source sets to match exactly: same files,
// same digests. A worker running different code than the producer queued
// against must not execute the trial.
func compareSources(local, job []trialstore.SourceFile) []Mismatch {
	localByName := make(map[string]string, len(local))
	for _, s := range local {
		localByName[s.Filename] = s.Digest
	}

	var mismatches []Mismatch
	seen := make(map[string]bool, len(job))
	for _, s := range job {
		seen[s.Filename] = true
		digest, ok := localByName[s.Filename]
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Field: "source:" + s.Filename, Local: "<absent>", Job: s.Digest,
			})
			continue
		}
		if digest != s.Digest {
			mismatches = append(mismatches, Mismatch{
				Field: "source:" + s.Filename, Local: digest, Job: s.Digest,
			})
		}
	}
	for _, s := range local {
		if !seen[s.Filename] {
			mismatches = append(mismatches, Mismatch{
				Field: "source:" + s.Filename, Local: s.Digest, Job: "<absent>",
			})
		}
	}
	return mismatches
}

func compareDependencies(local, job []trialstore.Dependency, policy DependencyPolicy) []Mismatch {
	localByName := make(map[string]string, len(local))
	for _, d := range local {
		localByName[d.Name] = d.Version
	}

	var mismatches []Mismatch
	for _, d := range job {
		version, ok := localByName[d.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Field: "dependency:" + d.Name, Local: "<absent>", Job: d.Version,
			})
			continue
		}
		switch policy {
		case DependencyEqual:
			if version != d.Version {
				mismatches = append(mismatches, Mismatch{
					Field: "dependency:" + d.Name, Local: version, Job: d.Version,
				})
			}
		case DependencyNewer:
			if compareVersions(version, d.Version) < 0 {
				mismatches = append(mismatches, Mismatch{
					Field: "dependency:" + d.Name, Local: version, Job: d.Version,
				})
			}
		}
	}
	return mismatches
}

// compareVersions compares dotted version strings segment by segment.
// Numeric segments compare numerically, anything else lexically. Returns
// -1, 0 or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}
