package workerloop

import (
	"log/slog"
	"sync"

	"github.com/kaspar030/dwq/internal/broker"
)

// workingSet tracks jobs currently being processed by this worker
// process, purely so shutdown can NACK them explicitly. Adapted from
// the teacher's worker.activeJobs map pattern and, more precisely,
// from the reference implementation's SyncSet (a mutex-guarded set
// with add/discard/empty).
type workingSet struct {
	mu  sync.Mutex
	set map[string]broker.JobMsg
}

func newWorkingSet() *workingSet {
	return &workingSet{set: make(map[string]broker.JobMsg)}
}

func (s *workingSet) add(id string, job broker.JobMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[id] = job
}

func (s *workingSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, id)
}

// nackAll explicitly NACKs every still-in-flight job, called once on
// shutdown after all slot goroutines have exited.
func (s *workingSet) nackAll(b *broker.BrokerContext, log *slog.Logger) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.set))
	for id := range s.set {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := b.Nack(id); err != nil {
			log.Warn("nack on shutdown failed", "job_id", id, "error", err)
		}
	}
}
