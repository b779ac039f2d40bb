package dispatch

import "github.com/kaspar030/dwq/internal/wire"

// tracker reconciles completions and subjob announcements arriving on a
// dwqc control queue in either order. Ported from dwq/dwqc.py's jobs /
// subjobs / unexpected / early_subjobs bookkeeping; kept as a pure struct
// (no broker access) so the reconciliation logic is unit-testable without
// a live connection.
type tracker struct {
	jobs map[string]struct{}

	// subjobs[parentJobID][unique] is the set of subjob ids a specific
	// execution of parentJobID has announced. Keying by unique (not just
	// parent id) keeps subjobs from a redelivered attempt of the parent
	// from being attributed to a different attempt's completion.
	subjobs map[string]map[string]map[string]struct{}

	// unexpected holds completions for job ids not yet in jobs, because
	// their announcement (discovered via their parent's own completion)
	// hasn't been processed yet.
	unexpected map[string]wire.Completion

	// early holds completions already resolved against unexpected that
	// are ready to be folded in without waiting on another broker poll.
	early []wire.Completion

	total, passed, failed int
	completions            []wire.Completion
}

func newTracker() *tracker {
	return &tracker{
		jobs:       make(map[string]struct{}),
		subjobs:    make(map[string]map[string]map[string]struct{}),
		unexpected: make(map[string]wire.Completion),
	}
}

// addJob registers a job id dwqc is waiting on, counting it toward total.
func (t *tracker) addJob(id string) {
	t.jobs[id] = struct{}{}
	t.total++
}

// addAnnouncement records that ann.Subjob was spawned by ann.Parent's
// execution identified by ann.Unique. It does not by itself make the
// subjob visible to done(); that happens once the parent's own completion
// is processed and discovers it.
func (t *tracker) addAnnouncement(ann wire.SubjobAnnouncement) {
	byUnique, ok := t.subjobs[ann.Parent]
	if !ok {
		byUnique = make(map[string]map[string]struct{})
		t.subjobs[ann.Parent] = byUnique
	}
	set, ok := byUnique[ann.Unique]
	if !ok {
		set = make(map[string]struct{})
		byUnique[ann.Unique] = set
	}
	set[ann.Subjob] = struct{}{}
}

// addCompletion folds comp into the tracker. It returns ok=false (and
// stashes comp in unexpected) when comp's job id isn't currently tracked,
// which happens when a subjob finishes before its announcement has been
// processed. On ok=true it returns the ids of any subjobs discovered via
// comp's own announcements that the caller must now start waiting on
// (those already sitting in unexpected are moved to early instead and
// are not returned).
func (t *tracker) addCompletion(comp wire.Completion) (newJobs []string, ok bool) {
	if _, tracked := t.jobs[comp.JobID]; !tracked {
		t.unexpected[comp.JobID] = comp
		return nil, false
	}
	delete(t.jobs, comp.JobID)
	t.completions = append(t.completions, comp)
	if comp.Result.Passed() {
		t.passed++
	} else {
		t.failed++
	}

	children := t.subjobs[comp.JobID][comp.Result.Unique]
	for child := range children {
		if early, ok := t.unexpected[child]; ok {
			delete(t.unexpected, child)
			t.addJob(child) // mark tracked before replaying its completion
			t.early = append(t.early, early)
			continue
		}
		newJobs = append(newJobs, child)
	}
	return newJobs, true
}

// popEarly returns (and removes) the next completion queued for immediate
// replay, or ok=false if there is none.
func (t *tracker) popEarly() (wire.Completion, bool) {
	if len(t.early) == 0 {
		return wire.Completion{}, false
	}
	c := t.early[0]
	t.early = t.early[1:]
	return c, true
}

// done reports whether every tracked job (including all discovered
// subjobs) has a completion.
func (t *tracker) done() bool {
	return len(t.jobs) == 0
}
