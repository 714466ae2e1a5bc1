package trialstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-sweep")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// queuedJob builds a minimal valid queued job for tests
func queuedJob() *Job {
	return &Job{
		Status:  StatusQueued,
		Command: "python train.py",
		Config:  Config{"learning_rate": 0.01},
		Experiment: ExperimentInfo{
			Name: "mnist",
			Sources: []SourceFile{
				{Filename: "train.py", Digest: "abc123"},
			},
			Dependencies: []Dependency{
				{Name: "torch", Version: "2.1.0"},
			},
		},
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-sweep", client.namespace)
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})
}

func TestInsertJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("assigns id and timestamps", func(t *testing.T) {
		job := queuedJob()
		id, err := client.InsertJob(ctx, job)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		_, err = uuid.Parse(id)
		assert.NoError(t, err)
		assert.NotZero(t, job.CreatedAtMs)
		assert.Equal(t, job.CreatedAtMs, job.HeartbeatMs)
	})

	t.Run("round-trips the document", func(t *testing.T) {
		job := queuedJob()
		job.SpaceID = uuid.New().String()
		id, err := client.InsertJob(ctx, job)
		require.NoError(t, err)

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, got.Status)
		assert.Equal(t, "python train.py", got.Command)
		assert.Equal(t, 0.01, got.Config["learning_rate"])
		assert.Equal(t, "mnist", got.Experiment.Name)
		assert.Equal(t, job.SpaceID, got.SpaceID)
		assert.Nil(t, got.Result)
	})

	t.Run("rejects invalid job", func(t *testing.T) {
		job := queuedJob()
		job.Command = ""
		_, err := client.InsertJob(ctx, job)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "command cannot be empty")
	})
}

func TestGetJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns ErrJobNotFound for missing job", func(t *testing.T) {
		_, err := client.GetJob(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestFindOneQueued(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("returns nil when queue is empty", func(t *testing.T) {
		job, err := client.FindOneQueued(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("returns oldest queued job first", func(t *testing.T) {
		older := queuedJob()
		older.CreatedAtMs = time.Now().Add(-time.Hour).UnixMilli()
		olderID, err := client.InsertJob(ctx, older)
		require.NoError(t, err)

		newer := queuedJob()
		_, err = client.InsertJob(ctx, newer)
		require.NoError(t, err)

		got, err := client.FindOneQueued(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, olderID, got.ID)
	})
}

func TestCompareAndSwapStatus(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("succeeds when status matches", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		swapped, err := client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
		require.NoError(t, err)
		assert.True(t, swapped)

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusInitializing, got.Status)

		// The job must have left the queued index
		queued, err := client.FindOneQueued(ctx)
		require.NoError(t, err)
		assert.Nil(t, queued)
	})

	t.Run("fails closed when status changed underneath", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		swapped, err := client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
		require.NoError(t, err)
		require.True(t, swapped)

		// Second claim attempt against the stale expected status loses
		swapped, err = client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
		require.NoError(t, err)
		assert.False(t, swapped)
	})

	t.Run("exactly one concurrent claimant wins", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		const racers = 8
		wins := make(chan bool, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				swapped, err := client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
				require.NoError(t, err)
				wins <- swapped
			}()
		}
		wg.Wait()
		close(wins)

		total := 0
		for won := range wins {
			if won {
				total++
			}
		}
		assert.Equal(t, 1, total)
	})
}

func TestCompleteJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	spaceID := uuid.New().String()

	startRunning := func(t *testing.T) string {
		job := queuedJob()
		job.SpaceID = spaceID
		id, err := client.InsertJob(ctx, job)
		require.NoError(t, err)
		swapped, err := client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
		require.NoError(t, err)
		require.True(t, swapped)
		swapped, err = client.CompareAndSwapStatus(ctx, id, StatusInitializing, StatusRunning)
		require.NoError(t, err)
		require.True(t, swapped)
		return id
	}

	t.Run("records result and joins the space completion index", func(t *testing.T) {
		id := startRunning(t)
		at := time.Now()

		done, err := client.CompleteJob(ctx, id, 7.5, at)
		require.NoError(t, err)
		assert.True(t, done)

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 7.5, got.Result)
		assert.Equal(t, at.UnixMilli(), got.HeartbeatMs)

		jobs, err := client.FindCompletedSince(ctx, spaceID, time.Time{})
		require.NoError(t, err)
		found := false
		for _, j := range jobs {
			if j.ID == id {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("fails closed when job is not RUNNING", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		done, err := client.CompleteJob(ctx, id, 1.0, time.Now())
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("stores structured results", func(t *testing.T) {
		id := startRunning(t)
		done, err := client.CompleteJob(ctx, id, map[string]any{"optimization_target": 3.2, "epochs": 10.0}, time.Now())
		require.NoError(t, err)
		require.True(t, done)

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		result, ok := got.Result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 3.2, result["optimization_target"])
	})
}

func TestFailJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	id, err := client.InsertJob(ctx, queuedJob())
	require.NoError(t, err)
	_, err = client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
	require.NoError(t, err)
	_, err = client.CompareAndSwapStatus(ctx, id, StatusInitializing, StatusRunning)
	require.NoError(t, err)

	failed, err := client.FailJob(ctx, id, time.Now())
	require.NoError(t, err)
	assert.True(t, failed)

	got, err := client.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestHeartbeat(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("advances forward", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		later := time.Now().Add(time.Minute)
		require.NoError(t, client.Heartbeat(ctx, id, later))

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, later.UnixMilli(), got.HeartbeatMs)
	})

	t.Run("never decreases", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		later := time.Now().Add(time.Minute)
		require.NoError(t, client.Heartbeat(ctx, id, later))
		require.NoError(t, client.Heartbeat(ctx, id, later.Add(-time.Hour)))

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, later.UnixMilli(), got.HeartbeatMs)
	})

	t.Run("missing job", func(t *testing.T) {
		err := client.Heartbeat(ctx, uuid.New().String(), time.Now())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestUpdateJobInfo(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes auxiliary info", func(t *testing.T) {
		id, err := client.InsertJob(ctx, queuedJob())
		require.NoError(t, err)

		require.NoError(t, client.UpdateJobInfo(ctx, id, map[string]any{"acquisition": 0.42}))

		got, err := client.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.42, got.Info["acquisition"])
	})

	t.Run("missing job", func(t *testing.T) {
		err := client.UpdateJobInfo(ctx, uuid.New().String(), map[string]any{"x": 1})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestFindCompletedSince(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	spaceID := uuid.New().String()

	complete := func(t *testing.T, at time.Time) string {
		job := queuedJob()
		job.SpaceID = spaceID
		id, err := client.InsertJob(ctx, job)
		require.NoError(t, err)
		_, err = client.CompareAndSwapStatus(ctx, id, StatusQueued, StatusInitializing)
		require.NoError(t, err)
		_, err = client.CompareAndSwapStatus(ctx, id, StatusInitializing, StatusRunning)
		require.NoError(t, err)
		done, err := client.CompleteJob(ctx, id, 1.0, at)
		require.NoError(t, err)
		require.True(t, done)
		return id
	}

	t.Run("lower bound is inclusive", func(t *testing.T) {
		boundary := time.Now().Truncate(time.Millisecond)
		id := complete(t, boundary)

		jobs, err := client.FindCompletedSince(ctx, spaceID, boundary)
		require.NoError(t, err)
		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		assert.Contains(t, ids, id)
	})

	t.Run("excludes completions before the bound", func(t *testing.T) {
		old := time.Now().Add(-2 * time.Hour)
		oldID := complete(t, old)

		jobs, err := client.FindCompletedSince(ctx, spaceID, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		for _, j := range jobs {
			assert.NotEqual(t, oldID, j.ID)
		}
	})

	t.Run("unknown space yields nothing", func(t *testing.T) {
		jobs, err := client.FindCompletedSince(ctx, uuid.New().String(), time.Time{})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestSpaceRecords(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		record := &SpaceRecord{
			Fingerprint: "fp-1",
			Payload:     `{"learning_rate":{"type":"uniform_float","min":0.001,"max":0.1}}`,
		}
		id, err := client.InsertSpace(ctx, record)
		require.NoError(t, err)

		got, err := client.GetSpace(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, record.Payload, got.Payload)
		assert.Equal(t, "fp-1", got.Fingerprint)
	})

	t.Run("missing space", func(t *testing.T) {
		_, err := client.GetSpace(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrSpaceNotFound)
	})

	t.Run("fingerprint claim is first-writer-wins", func(t *testing.T) {
		first := uuid.New().String()
		second := uuid.New().String()

		owner, won, err := client.ClaimSpaceFingerprint(ctx, "fp-race", first)
		require.NoError(t, err)
		assert.True(t, won)
		assert.Equal(t, first, owner)

		owner, won, err = client.ClaimSpaceFingerprint(ctx, "fp-race", second)
		require.NoError(t, err)
		assert.False(t, won)
		assert.Equal(t, first, owner)

		id, err := client.LookupSpaceByFingerprint(ctx, "fp-race")
		require.NoError(t, err)
		assert.Equal(t, first, id)
	})

	t.Run("unknown fingerprint", func(t *testing.T) {
		_, err := client.LookupSpaceByFingerprint(ctx, "fp-missing")
		assert.ErrorIs(t, err, ErrSpaceNotFound)
	})
}
