package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sploot/media-clustering/errors"
)

// JobEnvelope is the unit carried on the job stream. It is serialized as a
// single JSON string under the entry field "payload".
//
// Payload is the submitter's free-form mapping (reason, image_ids hints,
// coverage) kept opaque so the worker never has to model submitter-specific
// fields.
type JobEnvelope struct {
	JobID      string          `json:"job_id"`
	SubjectID  string          `json:"subject_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewEnvelope builds a fresh envelope for first enqueue. A job ID is
// generated when the submitter did not assign one. EnqueuedAt is set once
// here and preserved across retries.
func NewEnvelope(subjectID string, jobID string, payload json.RawMessage) JobEnvelope {
	if jobID == "" {
		jobID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return JobEnvelope{
		JobID:      jobID,
		SubjectID:  subjectID,
		Payload:    payload,
		Attempts:   0,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Encode serializes the envelope for publishing.
func (e JobEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode job envelope")
	}
	return data, nil
}

// DecodeEnvelope parses an entry payload into a JobEnvelope. A payload
// that is not JSON, or that lacks a subject, is malformed: the worker acks
// and drops it rather than retrying.
func DecodeEnvelope(payload string) (JobEnvelope, error) {
	var env JobEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return JobEnvelope{}, errors.Wrap(errors.ErrMalformedEnvelope, err.Error())
	}
	if env.SubjectID == "" {
		return JobEnvelope{}, errors.Wrap(errors.ErrMalformedEnvelope, "missing subject_id")
	}
	return env, nil
}
