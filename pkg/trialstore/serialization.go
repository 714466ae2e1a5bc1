package trialstore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Structured fields
// (config, result, experiment, info) are JSON-encoded into single hash
// fields; scalar fields stay individually readable so the Lua scripts can
// inspect them without decoding JSON.

// JobToHash converts a Job struct to a Redis hash format.
func JobToHash(j *Job) (map[string]interface{}, error) {
	configJSON, err := json.Marshal(j.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	experimentJSON, err := json.Marshal(j.Experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal experiment: %w", err)
	}

	hash := map[string]interface{}{
		"id":            j.ID,
		"status":        string(j.Status),
		"command":       j.Command,
		"config":        string(configJSON),
		"heartbeat_ms":  j.HeartbeatMs,
		"created_at_ms": j.CreatedAtMs,
		"experiment":    string(experimentJSON),
		"space_id":      j.SpaceID,
	}

	if j.Result != nil {
		resultJSON, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		hash["result"] = string(resultJSON)
	} else {
		hash["result"] = ""
	}

	if j.Info != nil {
		infoJSON, err := json.Marshal(j.Info)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal info: %w", err)
		}
		hash["info"] = string(infoJSON)
	} else {
		hash["info"] = ""
	}

	return hash, nil
}

// HashToJob converts a Redis hash to a Job struct.
func HashToJob(hash map[string]string) (*Job, error) {
	var config Config
	if configJSON := hash["config"]; configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if config == nil {
		config = Config{}
	}

	var experiment ExperimentInfo
	if experimentJSON := hash["experiment"]; experimentJSON != "" {
		if err := json.Unmarshal([]byte(experimentJSON), &experiment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
		}
	}

	// Result stays an untyped JSON value: a bare number decodes to float64,
	// a structured result to map[string]any. Scalarization is the
	// aggregator's job.
	var result any
	if resultJSON := hash["result"]; resultJSON != "" {
		if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	var info map[string]any
	if infoJSON := hash["info"]; infoJSON != "" {
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal info: %w", err)
		}
	}

	heartbeatMs, err := strconv.ParseInt(hash["heartbeat_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat_ms field: %w", err)
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	job := &Job{
		ID:          hash["id"],
		Status:      Status(hash["status"]),
		Command:     hash["command"],
		Config:      config,
		Result:      result,
		HeartbeatMs: heartbeatMs,
		CreatedAtMs: createdAtMs,
		Experiment:  experiment,
		SpaceID:     hash["space_id"],
		Info:        info,
	}

	return job, nil
}

// SpaceToHash converts a SpaceRecord to a Redis hash format.
func SpaceToHash(r *SpaceRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":            r.ID,
		"fingerprint":   r.Fingerprint,
		"payload":       r.Payload,
		"created_at_ms": r.CreatedAtMs,
	}
}

// HashToSpace converts a Redis hash to a SpaceRecord.
func HashToSpace(hash map[string]string) (*SpaceRecord, error) {
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	record := &SpaceRecord{
		ID:          hash["id"],
		Fingerprint: hash["fingerprint"],
		Payload:     hash["payload"],
		CreatedAtMs: createdAtMs,
	}
	if record.ID == "" {
		return nil, fmt.Errorf("space hash missing id field")
	}
	return record, nil
}
