// Package executor runs trials as local subprocesses. It is the execution
// runtime behind the coordinator's Runner interface: the coordination core
// never depends on how a trial actually runs.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/tunelab/sweep/pkg/trialstore"
)

const (
	// defaultTrialTimeout bounds a trial when no timeout is configured
	defaultTrialTimeout = time.Hour

	// maxOutputSize is the maximum number of bytes captured from trial
	// stdout/stderr (10MB)
	maxOutputSize = 10 * 1024 * 1024
)

// Input is the JSON document fed to the trial subprocess on stdin.
type Input struct {
	ID     string            `json:"id"`
	Config trialstore.Config `json:"config"`
}

// Local executes a trial command as a subprocess.
//
// Contract with the trial program: the job's config arrives as JSON on
// stdin; the last non-empty stdout line must be a JSON value, which becomes
// the job's raw result (a bare number, or an object carrying
// optimization_target). A non-zero exit code fails the trial.
type Local struct {
	// Timeout bounds one trial; zero means defaultTrialTimeout.
	Timeout time.Duration

	// Dir is the working directory for the subprocess; empty means the
	// worker's own.
	Dir string
}

// Run executes the job's command and returns the decoded raw result.
// Cancelling ctx kills the subprocess.
func (l *Local) Run(ctx context.Context, job *trialstore.Job) (any, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultTrialTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inputJSON, err := json.Marshal(&Input{ID: job.ID, Config: job.Config})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trial input: %w", err)
	}

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", job.Command)
	cmd.Dir = l.Dir
	cmd.Stdin = bytes.NewReader(inputJSON)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	log.Printf("[Executor] Running trial %s: %s", job.ID, job.Command)
	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("trial %s timed out after %s", job.ID, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("trial %s failed after %s: %w (stderr: %s)",
			job.ID, duration.Round(time.Millisecond), err, tail(stderrBuf.String(), 500))
	}

	result, err := parseResult(stdoutBuf.String())
	if err != nil {
		return nil, fmt.Errorf("trial %s produced no readable result: %w", job.ID, err)
	}

	log.Printf("[Executor] Trial %s finished in %s", job.ID, duration.Round(time.Millisecond))
	return result, nil
}

// parseResult decodes the last non-empty stdout line as JSON. Trials are
// free to log anything above it.
func parseResult(stdout string) (any, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var result any
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			return nil, fmt.Errorf("last output line is not JSON: %q", tail(line, 200))
		}
		return result, nil
	}
	return nil, fmt.Errorf("trial wrote nothing to stdout")
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

// limitedWriter discards writes beyond limit, keeping the head of the
// stream. A runaway trial must not exhaust worker memory.
type limitedWriter struct {
	w       *bytes.Buffer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
