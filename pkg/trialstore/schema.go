package trialstore

import "fmt"

// Redis key pattern helpers
//
// All keys are namespaced by experiment namespace so that multiple sweeps
// can share one Redis server.
//
// Key pattern: sweep:{namespace}:{entity}:{id}

// JobKey returns the Redis key for a job document.
// Pattern: sweep:{namespace}:job:{job_id}
func JobKey(namespace, jobID string) string {
	return fmt.Sprintf("sweep:%s:job:%s", namespace, jobID)
}

// JobsKey returns the Redis key for the set of all job ids.
// Pattern: sweep:{namespace}:jobs
func JobsKey(namespace string) string {
	return fmt.Sprintf("sweep:%s:jobs", namespace)
}

// StatusIndexKey returns the Redis key for the per-status sorted-set index.
// QUEUED members are scored by creation time, giving the claimer its
// oldest-first selection order; other statuses are scored by the time of
// the last transition.
// Pattern: sweep:{namespace}:jobs:status:{STATUS}
func StatusIndexKey(namespace string, status Status) string {
	return fmt.Sprintf("sweep:%s:jobs:status:%s", namespace, status)
}

// CompletedBySpaceKey returns the Redis key for the per-space completion
// index, scored by heartbeat time. The aggregator's watermark query is a
// score-range read over this set.
// Pattern: sweep:{namespace}:jobs:completed_by_space:{space_id}
func CompletedBySpaceKey(namespace, spaceID string) string {
	return fmt.Sprintf("sweep:%s:jobs:completed_by_space:%s", namespace, spaceID)
}

// SpaceKey returns the Redis key for a search-space record.
// Pattern: sweep:{namespace}:space:{space_id}
func SpaceKey(namespace, spaceID string) string {
	return fmt.Sprintf("sweep:%s:space:%s", namespace, spaceID)
}

// SpacesKey returns the Redis key for the set of all space ids.
// Pattern: sweep:{namespace}:spaces
func SpacesKey(namespace string) string {
	return fmt.Sprintf("sweep:%s:spaces", namespace)
}

// SpaceFingerprintKey returns the Redis key mapping a structural fingerprint
// to the id of the space that owns it. Written with SETNX so concurrent
// resolvers of the same definition converge on one winner.
// Pattern: sweep:{namespace}:space_by_fp:{fingerprint}
func SpaceFingerprintKey(namespace, fingerprint string) string {
	return fmt.Sprintf("sweep:%s:space_by_fp:%s", namespace, fingerprint)
}
