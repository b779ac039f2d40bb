// Package token derives the opaque identifiers the worker and client use
// to link a job's execution to its subjobs and to name private queues.
// The reference implementation used math/rand float strings for both
// purposes; this implementation uses a SHA3-256 digest and uuid.v4
// respectively, matching how the teacher codebase derives its own
// opaque tokens (internal/server/api.go, internal/server/ws.go use
// golang.org/x/crypto/sha3 the same way).
package token

import (
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var counter uint64

// Unique derives a collision-resistant "unique" token for one execution
// of a job, scoped by its job id. It is exported to the child process as
// DWQ_JOB_UNIQUE and echoed back in completions and subjob announcements
// so a client can tell fresh executions apart from redeliveries.
func Unique(jobID string) string {
	n := atomic.AddUint64(&counter, 1)
	h := sha3.New256()
	h.Write([]byte(jobID))
	h.Write([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	var nb [8]byte
	for i := range nb {
		nb[i] = byte(n >> (8 * i))
	}
	h.Write(nb[:])
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ExclusiveJobdirToken derives the private GitJobDir lease token for a
// job that requested options.jobdir == "exclusive".
func ExclusiveJobdirToken(jobID string) string {
	h := sha3.New256()
	h.Write([]byte("jobdir:"))
	h.Write([]byte(jobID))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// QueueName generates a fresh random queue name, e.g. for a dispatcher's
// private control queue or a management tool's one-shot reply queue.
func QueueName(prefix string) string {
	return prefix + "::" + uuid.New().String()
}
