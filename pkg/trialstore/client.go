package trialstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sentinel errors for document lookups.
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrSpaceNotFound = errors.New("search space not found")
)

// casStatusScript performs the single-document compare-and-swap that backs
// the claim protocol and every other ownership transition. It fails closed
// (returns 0) unless the document's status still equals the expected value
// at script execution time, and moves the job between status indexes in the
// same atomic step.
//
// KEYS: [1] job hash, [2] expected-status index, [3] new-status index
// ARGV: [1] job id, [2] expected status, [3] new status, [4] index score
var casStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

// completeJobScript is the completion variant of the compare-and-swap: in
// one atomic step it verifies the job is still RUNNING, writes the result,
// advances the heartbeat, moves the status indexes, and inserts the job into
// the per-space completion index the aggregator queries.
//
// KEYS: [1] job hash, [2] RUNNING index, [3] COMPLETED index, [4] per-space index
// ARGV: [1] job id, [2] expected status, [3] new status, [4] completion time ms,
//       [5] result JSON, [6] "1" if the job carries a space tag
var completeJobScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'result', ARGV[5], 'heartbeat_ms', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
if ARGV[6] == '1' then
  redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
end
return 1
`)

// heartbeatScript advances a job's heartbeat, keeping it monotonically
// non-decreasing even if workers' clocks disagree or updates arrive out of
// order.
//
// KEYS: [1] job hash
// ARGV: [1] heartbeat ms
var heartbeatScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'heartbeat_ms') or '0')
local next = tonumber(ARGV[1])
if next > cur then
  redis.call('HSET', KEYS[1], 'heartbeat_ms', ARGV[1])
end
return 1
`)

// Client provides namespace-scoped Redis operations for the trial store.
// All keys are automatically namespaced with the experiment namespace.
// The client is thread-safe and can be used concurrently from multiple
// goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a new trial store client for the given namespace.
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InsertJob writes a new job document and returns the store-assigned id.
// The job must validate; an empty ID is assigned a fresh UUID. Creation
// time and the initial heartbeat are set to now. The document, the global
// job set, and the status index are written in one transaction.
func (c *Client) InsertJob(ctx context.Context, job *Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("invalid job: %w", err)
	}

	now := time.Now().UnixMilli()
	if job.CreatedAtMs == 0 {
		job.CreatedAtMs = now
	}
	if job.HeartbeatMs == 0 {
		job.HeartbeatMs = job.CreatedAtMs
	}

	hash, err := JobToHash(job)
	if err != nil {
		return "", fmt.Errorf("failed to serialize job: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, JobKey(c.namespace, job.ID), hash)
		pipe.SAdd(ctx, JobsKey(c.namespace), job.ID)
		pipe.ZAdd(ctx, StatusIndexKey(c.namespace, job.Status), redis.Z{
			Score:  float64(job.CreatedAtMs),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to write job to Redis: %w", err)
	}

	return job.ID, nil
}

// GetJob retrieves a job document by id.
// Returns ErrJobNotFound if the job does not exist.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	hash, err := c.rdb.HGetAll(ctx, JobKey(c.namespace, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, ErrJobNotFound
	}

	job, err := HashToJob(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize job %s: %w", jobID, err)
	}
	return job, nil
}

// FindOneQueued returns the oldest QUEUED job, or nil if the queue is empty.
//
// Selection order is oldest-first: the QUEUED index is scored by creation
// time and this reads the lowest score. The returned snapshot may already be
// stale by the time the caller acts on it; the claim compare-and-swap is the
// only admission control.
func (c *Client) FindOneQueued(ctx context.Context) (*Job, error) {
	ids, err := c.rdb.ZRange(ctx, StatusIndexKey(c.namespace, StatusQueued), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queued index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	job, err := c.GetJob(ctx, ids[0])
	if errors.Is(err, ErrJobNotFound) {
		// Index raced ahead of a deletion or rewrite; treat as empty poll.
		return nil, nil
	}
	return job, err
}

// FindJobs returns all jobs currently in the given status, ordered by index
// score (oldest transition first).
func (c *Client) FindJobs(ctx context.Context, status Status) ([]*Job, error) {
	ids, err := c.rdb.ZRange(ctx, StatusIndexKey(c.namespace, status), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status index: %w", err)
	}
	return c.fetchJobs(ctx, ids)
}

// ListJobs returns every job in the namespace, in unspecified order.
func (c *Client) ListJobs(ctx context.Context) ([]*Job, error) {
	ids, err := c.rdb.SMembers(ctx, JobsKey(c.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job set: %w", err)
	}
	return c.fetchJobs(ctx, ids)
}

// CompareAndSwapStatus atomically transitions a job from expected to next,
// failing closed if the job's status no longer equals expected at write
// time. Returns true when exactly this call performed the transition.
//
// Transitions into COMPLETED must go through CompleteJob instead so the
// result and the per-space completion index are written in the same atomic
// step.
func (c *Client) CompareAndSwapStatus(ctx context.Context, jobID string, expected, next Status) (bool, error) {
	if !expected.IsValid() || !next.IsValid() {
		return false, fmt.Errorf("invalid status transition %q -> %q", expected, next)
	}

	keys := []string{
		JobKey(c.namespace, jobID),
		StatusIndexKey(c.namespace, expected),
		StatusIndexKey(c.namespace, next),
	}
	score := time.Now().UnixMilli()

	n, err := casStatusScript.Run(ctx, c.rdb, keys, jobID, string(expected), string(next), score).Int()
	if err != nil {
		return false, fmt.Errorf("compare-and-swap failed: %w", err)
	}
	return n == 1, nil
}

// CompleteJob atomically transitions a RUNNING job to COMPLETED, recording
// the raw result and stamping the final heartbeat. Returns false if the job
// was no longer RUNNING (another actor moved it first).
func (c *Client) CompleteJob(ctx context.Context, jobID string, result any, at time.Time) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal result: %w", err)
	}

	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	hasSpace := "0"
	if job.SpaceID != "" {
		hasSpace = "1"
	}

	keys := []string{
		JobKey(c.namespace, jobID),
		StatusIndexKey(c.namespace, StatusRunning),
		StatusIndexKey(c.namespace, StatusCompleted),
		CompletedBySpaceKey(c.namespace, job.SpaceID),
	}

	n, err := completeJobScript.Run(ctx, c.rdb, keys,
		jobID, string(StatusRunning), string(StatusCompleted),
		at.UnixMilli(), string(resultJSON), hasSpace).Int()
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return n == 1, nil
}

// FailJob atomically transitions a RUNNING job to FAILED.
func (c *Client) FailJob(ctx context.Context, jobID string, at time.Time) (bool, error) {
	keys := []string{
		JobKey(c.namespace, jobID),
		StatusIndexKey(c.namespace, StatusRunning),
		StatusIndexKey(c.namespace, StatusFailed),
	}
	n, err := casStatusScript.Run(ctx, c.rdb, keys,
		jobID, string(StatusRunning), string(StatusFailed), at.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}
	return n == 1, nil
}

// Heartbeat advances a RUNNING job's heartbeat. The stored value never
// decreases. Returns ErrJobNotFound if the job does not exist.
func (c *Client) Heartbeat(ctx context.Context, jobID string, at time.Time) error {
	n, err := heartbeatScript.Run(ctx, c.rdb, []string{JobKey(c.namespace, jobID)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if n == -1 {
		return ErrJobNotFound
	}
	return nil
}

// UpdateJobInfo writes optimizer-attached auxiliary info onto a job. This is
// the one permitted mutation of a terminal job. Returns ErrJobNotFound if
// the job does not exist.
func (c *Client) UpdateJobInfo(ctx context.Context, jobID string, info map[string]any) error {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal info: %w", err)
	}

	exists, err := c.rdb.Exists(ctx, JobKey(c.namespace, jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if exists == 0 {
		return ErrJobNotFound
	}

	if err := c.rdb.HSet(ctx, JobKey(c.namespace, jobID), "info", string(infoJSON)).Err(); err != nil {
		return fmt.Errorf("failed to write job info: %w", err)
	}
	return nil
}

// FindCompletedSince returns all COMPLETED jobs tagged with the given space
// whose heartbeat is at or after since (inclusive lower bound, so a job
// completing exactly at a previous watermark is never lost; callers
// deduplicate the resulting overlap).
func (c *Client) FindCompletedSince(ctx context.Context, spaceID string, since time.Time) ([]*Job, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, CompletedBySpaceKey(c.namespace, spaceID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read completion index: %w", err)
	}

	jobs, err := c.fetchJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// The index is written atomically with the COMPLETED transition, but a
	// stale snapshot costs a wasted delivery; filter defensively.
	completed := jobs[:0]
	for _, job := range jobs {
		if job.Status == StatusCompleted {
			completed = append(completed, job)
		}
	}
	return completed, nil
}

// InsertSpace writes a search-space record and returns the assigned id.
func (c *Client) InsertSpace(ctx context.Context, record *SpaceRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("invalid space record: %w", err)
	}
	if record.CreatedAtMs == 0 {
		record.CreatedAtMs = time.Now().UnixMilli()
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, SpaceKey(c.namespace, record.ID), SpaceToHash(record))
		pipe.SAdd(ctx, SpacesKey(c.namespace), record.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to write space to Redis: %w", err)
	}
	return record.ID, nil
}

// GetSpace retrieves a search-space record by id.
// Returns ErrSpaceNotFound if it does not exist.
func (c *Client) GetSpace(ctx context.Context, spaceID string) (*SpaceRecord, error) {
	hash, err := c.rdb.HGetAll(ctx, SpaceKey(c.namespace, spaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read space from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, ErrSpaceNotFound
	}
	return HashToSpace(hash)
}

// DeleteSpace removes a space record. Used only to discard the loser of a
// fingerprint race; spaces referenced by jobs are never deleted.
func (c *Client) DeleteSpace(ctx context.Context, spaceID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, SpaceKey(c.namespace, spaceID))
		pipe.SRem(ctx, SpacesKey(c.namespace), spaceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete space: %w", err)
	}
	return nil
}

// ClaimSpaceFingerprint claims the structural fingerprint for the given
// space id with SETNX. Returns the id that owns the fingerprint after the
// call and whether this call won it.
func (c *Client) ClaimSpaceFingerprint(ctx context.Context, fingerprint, spaceID string) (string, bool, error) {
	key := SpaceFingerprintKey(c.namespace, fingerprint)

	won, err := c.rdb.SetNX(ctx, key, spaceID, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim fingerprint: %w", err)
	}
	if won {
		return spaceID, true, nil
	}

	winner, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to read fingerprint owner: %w", err)
	}
	return winner, false, nil
}

// LookupSpaceByFingerprint returns the id of the space owning the given
// structural fingerprint. Returns ErrSpaceNotFound if no space owns it.
func (c *Client) LookupSpaceByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	id, err := c.rdb.Get(ctx, SpaceFingerprintKey(c.namespace, fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSpaceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return id, nil
}

func (c *Client) fetchJobs(ctx context.Context, ids []string) ([]*Job, error) {
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := c.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
