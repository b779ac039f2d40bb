// Package tail provides an optional, observational-only live view of a
// running job's output over a websocket, grounded on the teacher's
// internal/worker/stream.go (chunked buffering of stdout/stderr) and
// internal/daemon/server.go (subscribe/broadcast fan-out to connected
// clients). It sits alongside the broker-mediated completion path, never
// in it: a dwqw instance that has no tail subscribers does no extra work,
// and losing a tail connection never affects job delivery or ACKing.
package tail

import "sync"

// Chunk is one piece of a job's live output.
type Chunk struct {
	JobID  string `json:"job_id"`
	Stream string `json:"stream"` // "stdout" | "stderr" | "combined"
	Data   string `json:"data"`
}

// Hub fans out Chunks published for a job to every subscriber currently
// watching it, mirroring the teacher's clientConn/broadcast split but
// keyed by job id only (dwq has no "oldest running job" fallback concept).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// Subscriber receives Chunks for one job via a buffered channel; a slow
// subscriber drops chunks rather than blocking the publisher.
type Subscriber struct {
	jobID string
	ch    chan Chunk
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new Subscriber for jobID. Call Unsubscribe when
// done to release it.
func (h *Hub) Subscribe(jobID string) *Subscriber {
	s := &Subscriber{jobID: jobID, ch: make(chan Chunk, 256)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscriber]struct{})
	}
	h.subs[jobID][s] = struct{}{}
	return s
}

// Unsubscribe removes s from its job's subscriber set.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.jobID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.jobID)
		}
	}
}

// Publish delivers a Chunk to every current subscriber of jobID.
func (h *Hub) Publish(jobID, stream string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.subs[jobID]
	if !ok {
		return
	}
	c := Chunk{JobID: jobID, Stream: stream, Data: string(data)}
	for s := range set {
		select {
		case s.ch <- c:
		default:
		}
	}
}

// Chan returns the channel a subscriber reads Chunks from.
func (s *Subscriber) Chan() <-chan Chunk { return s.ch }

// HasSubscribers reports whether jobID currently has any live watcher,
// letting a worker skip buffering output it knows nobody is tailing.
func (h *Hub) HasSubscribers(jobID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID]) > 0
}
