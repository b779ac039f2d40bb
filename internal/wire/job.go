// Package wire defines the JSON structures exchanged over broker queues:
// job descriptors, completion notifications, and subjob announcements.
package wire

import (
	"encoding/json"
	"fmt"
)

// ControlQueuePlaceholder is substituted with the job's own id inside
// StatusQueues entries, letting a submitter address a reply queue that
// only exists once the id is known.
const ControlQueuePlaceholder = "$jobid"

// Options carries the per-job knobs a submitter can set.
type Options struct {
	// Jobdir is "exclusive" to request a private working directory,
	// or empty to share one per worker slot keyed by (repo, commit).
	Jobdir string `json:"jobdir,omitempty"`

	// MaxRetriesRaw bounds how many times a failed job is NACKed before
	// being reported as a terminal failure. Zero means "unset"; use the
	// MaxRetries() accessor, which substitutes DefaultMaxRetries.
	MaxRetriesRaw int `json:"max_retries,omitempty"`

	Files []File `json:"files,omitempty"`
}

// DefaultMaxRetries is used whenever Options.MaxRetriesRaw is unset (zero).
const DefaultMaxRetries = 2

// File is a small payload materialized into the job's working directory
// before the command runs.
type File struct {
	Path    string `json:"path"`
	Mode    uint32 `json:"mode,omitempty"`
	DataB64 string `json:"data_b64"`
}

// Job is the wire body of a job descriptor, as written by a submitter and
// read by a worker.
type Job struct {
	Repo    string            `json:"repo"`
	Commit  string            `json:"commit"`
	Command string            `json:"command"`
	Options Options           `json:"options,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// StatusQueues is the single wire name for where completions and
	// subjob announcements for this job are published. The original
	// reference implementation wrote this field as "status_queues" but
	// read it back as "control_queues" on the worker side; this
	// implementation standardizes on "status_queues" on both ends.
	StatusQueues []string `json:"status_queues,omitempty"`

	// Parent is set on a subjob's descriptor to the parent job's id.
	Parent string `json:"parent,omitempty"`
}

// Validate checks the required fields a worker must see before acting on
// a job body.
func (j *Job) Validate() error {
	if j.Repo == "" {
		return fmt.Errorf("invalid job description: missing repo")
	}
	if j.Commit == "" {
		return fmt.Errorf("invalid job description: missing commit")
	}
	if j.Command == "" {
		return fmt.Errorf("invalid job description: missing command")
	}
	return nil
}

// MaxRetries returns Options.MaxRetriesRaw, or DefaultMaxRetries if unset.
func (o Options) MaxRetries() int {
	if o.MaxRetriesRaw == 0 {
		return DefaultMaxRetries
	}
	return o.MaxRetriesRaw
}

// Exclusive reports whether the job requested a private working directory.
func (o Options) Exclusive() bool {
	return o.Jobdir == "exclusive"
}

// Result is the payload of a completion notification.
type Result struct {
	Status  any    `json:"status"`
	Output  string `json:"output"`
	Worker  string `json:"worker"`
	Runtime float64 `json:"runtime"`
	Body    *Job   `json:"body,omitempty"`
	Unique  string `json:"unique,omitempty"`
}

// Passed reports whether a Result.Status value indicates success, per the
// convention status ∈ {0, "0", "pass"}.
func (r Result) Passed() bool {
	switch v := r.Status.(type) {
	case float64:
		return v == 0
	case int:
		return v == 0
	case string:
		return v == "0" || v == "pass"
	default:
		return false
	}
}

// Completion is the full notification body published to a job's status
// queues when it finishes.
type Completion struct {
	JobID  string `json:"job_id"`
	State  string `json:"state"`
	Result Result `json:"result"`
}

// StateDone is the only State value a completion is ever published with.
const StateDone = "done"

// NewCompletion builds a terminal completion notification.
func NewCompletion(jobID string, result Result) Completion {
	return Completion{JobID: jobID, State: StateDone, Result: result}
}

// SubjobAnnouncement is published to a parent job's status queue as soon
// as the parent enqueues a subjob, which may race with the subjob's own
// completion arriving first.
type SubjobAnnouncement struct {
	Parent string `json:"parent"`
	Subjob string `json:"subjob"`
	Unique string `json:"unique"`
}

// IsAnnouncement reports whether a raw status-queue message is a subjob
// announcement (has "subjob") rather than a completion (has "job_id").
func IsAnnouncement(raw json.RawMessage) (SubjobAnnouncement, bool) {
	var probe struct {
		Subjob string `json:"subjob"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Subjob == "" {
		return SubjobAnnouncement{}, false
	}
	var ann SubjobAnnouncement
	_ = json.Unmarshal(raw, &ann)
	return ann, true
}

// ControlCommand is the body sent to a worker's control queue
// (control::worker::<name>) by the management tool.
type ControlCommand struct {
	Control struct {
		Cmd string `json:"cmd"` // "pause" | "resume" | "shutdown"
	} `json:"control"`
	ReplyQueue string `json:"reply_queue,omitempty"`

	// Sig is an optional HS256 JWT over the cmd field, populated when
	// dwqm is given a --secret. Workers verify it before acting when a
	// control secret is configured on their side too.
	Sig string `json:"sig,omitempty"`
}

// ExpandStatusQueues substitutes ControlQueuePlaceholder with jobID in a
// copy of queues, leaving the input untouched.
func ExpandStatusQueues(queues []string, jobID string) []string {
	out := make([]string, len(queues))
	for i, q := range queues {
		if q == ControlQueuePlaceholder {
			out[i] = jobID
		} else {
			out[i] = q
		}
	}
	return out
}

// Encode marshals v to JSON, wrapping marshal errors with context.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Decode unmarshals data into a new T, wrapping unmarshal errors with
// context. Mirrors the generic decode helper the teacher codebase uses
// for its own message envelope (internal/protocol.DecodePayload).
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
