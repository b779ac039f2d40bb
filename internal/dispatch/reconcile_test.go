package dispatch

import (
	"testing"

	"github.com/kaspar030/dwq/internal/wire"
)

func completionFor(jobID, unique string, passed bool) wire.Completion {
	status := any("0")
	if !passed {
		status = "1"
	}
	return wire.Completion{
		JobID: jobID,
		State: wire.StateDone,
		Result: wire.Result{
			Status: status,
			Unique: unique,
		},
	}
}

func TestTrackerSimpleCompletion(t *testing.T) {
	tr := newTracker()
	tr.addJob("job-1")

	newJobs, ok := tr.addCompletion(completionFor("job-1", "u1", true))
	if !ok {
		t.Fatal("expected completion to be accepted")
	}
	if len(newJobs) != 0 {
		t.Errorf("expected no discovered subjobs, got %v", newJobs)
	}
	if !tr.done() {
		t.Error("expected tracker to be done")
	}
	if tr.passed != 1 || tr.failed != 0 {
		t.Errorf("passed=%d failed=%d, want 1/0", tr.passed, tr.failed)
	}
}

func TestTrackerAnnouncementBeforeCompletion(t *testing.T) {
	tr := newTracker()
	tr.addJob("parent")

	tr.addAnnouncement(wire.SubjobAnnouncement{Parent: "parent", Subjob: "child-1", Unique: "u1"})

	newJobs, ok := tr.addCompletion(completionFor("parent", "u1", true))
	if !ok {
		t.Fatal("expected parent completion to be accepted")
	}
	if len(newJobs) != 1 || newJobs[0] != "child-1" {
		t.Fatalf("expected to discover child-1, got %v", newJobs)
	}
	for _, j := range newJobs {
		tr.addJob(j)
	}
	if tr.done() {
		t.Fatal("expected tracker not done, child-1 still outstanding")
	}

	_, ok = tr.addCompletion(completionFor("child-1", "", true))
	if !ok {
		t.Fatal("expected child completion to be accepted")
	}
	if !tr.done() {
		t.Error("expected tracker to be done after child completion")
	}
}

func TestTrackerCompletionBeforeAnnouncement(t *testing.T) {
	tr := newTracker()
	tr.addJob("parent")

	// The subjob finishes and its completion reaches the control queue
	// before the parent's own completion reveals it as a child.
	newJobs, ok := tr.addCompletion(completionFor("child-1", "", true))
	if ok {
		t.Fatal("expected untracked completion to be rejected")
	}
	if len(newJobs) != 0 {
		t.Errorf("expected no new jobs from an unexpected completion, got %v", newJobs)
	}
	if _, stashed := tr.unexpected["child-1"]; !stashed {
		t.Fatal("expected child-1 completion to be stashed in unexpected")
	}

	tr.addAnnouncement(wire.SubjobAnnouncement{Parent: "parent", Subjob: "child-1", Unique: "u1"})

	discovered, ok := tr.addCompletion(completionFor("parent", "u1", true))
	if !ok {
		t.Fatal("expected parent completion to be accepted")
	}
	if len(discovered) != 0 {
		t.Errorf("child-1 was already resolved via unexpected, want no new jobs, got %v", discovered)
	}

	comp, ok := tr.popEarly()
	if !ok {
		t.Fatal("expected child-1's stashed completion to be queued for early replay")
	}
	if comp.JobID != "child-1" {
		t.Fatalf("expected early completion for child-1, got %s", comp.JobID)
	}

	if tr.done() {
		t.Fatal("expected tracker not done until the early completion is replayed")
	}
	if _, ok := tr.addCompletion(comp); !ok {
		t.Fatal("expected replayed completion to be accepted once tracked")
	}
	if !tr.done() {
		t.Error("expected tracker to be done after replaying child-1's completion")
	}
}

func TestTrackerFailedJobCountsAsFailed(t *testing.T) {
	tr := newTracker()
	tr.addJob("job-1")
	if _, ok := tr.addCompletion(completionFor("job-1", "", false)); !ok {
		t.Fatal("expected completion to be accepted")
	}
	if tr.failed != 1 || tr.passed != 0 {
		t.Errorf("passed=%d failed=%d, want 0/1", tr.passed, tr.failed)
	}
}

func TestTrackerDistinctUniquesIsolateSubjobs(t *testing.T) {
	tr := newTracker()
	tr.addJob("parent")

	// Announcement tied to a stale delivery attempt (different unique)
	// should not surface when the current attempt completes.
	tr.addAnnouncement(wire.SubjobAnnouncement{Parent: "parent", Subjob: "stale-child", Unique: "stale"})

	newJobs, ok := tr.addCompletion(completionFor("parent", "current", true))
	if !ok {
		t.Fatal("expected completion to be accepted")
	}
	if len(newJobs) != 0 {
		t.Errorf("expected no subjobs discovered for a different unique, got %v", newJobs)
	}
}
