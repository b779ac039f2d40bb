package wire

import (
	"encoding/json"
	"testing"
)

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"valid", Job{Repo: "r", Commit: "c", Command: "echo hi"}, true},
		{"missing repo", Job{Commit: "c", Command: "echo hi"}, false},
		{"missing commit", Job{Repo: "r", Command: "echo hi"}, false},
		{"missing command", Job{Repo: "r", Commit: "c"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid, got error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Errorf("expected error, got none")
			}
		})
	}
}

func TestResultPassed(t *testing.T) {
	cases := []struct {
		status any
		passed bool
	}{
		{0, true},
		{float64(0), true},
		{"0", true},
		{"pass", true},
		{1, false},
		{"timeout", false},
		{"error", false},
	}
	for _, tc := range cases {
		r := Result{Status: tc.status}
		if got := r.Passed(); got != tc.passed {
			t.Errorf("Passed() for status %v = %v, want %v", tc.status, got, tc.passed)
		}
	}
}

func TestExpandStatusQueues(t *testing.T) {
	got := ExpandStatusQueues([]string{"control::abc", ControlQueuePlaceholder}, "job-123")
	want := []string{"control::abc", "job-123"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ExpandStatusQueues = %v, want %v", got, want)
	}
}

func TestIsAnnouncement(t *testing.T) {
	ann := SubjobAnnouncement{Parent: "p1", Subjob: "s1", Unique: "u1"}
	raw, _ := json.Marshal(ann)
	got, ok := IsAnnouncement(raw)
	if !ok {
		t.Fatalf("expected announcement to be recognized")
	}
	if got != ann {
		t.Errorf("got %+v, want %+v", got, ann)
	}

	completion := NewCompletion("job-1", Result{Status: 0})
	raw2, _ := json.Marshal(completion)
	if _, ok := IsAnnouncement(raw2); ok {
		t.Errorf("completion misidentified as announcement")
	}
}

func TestMaxRetriesDefault(t *testing.T) {
	var o Options
	if got := o.MaxRetries(); got != DefaultMaxRetries {
		t.Errorf("MaxRetries() = %d, want default %d", got, DefaultMaxRetries)
	}
	o.MaxRetriesRaw = 5
	if got := o.MaxRetries(); got != 5 {
		t.Errorf("MaxRetries() = %d, want 5", got)
	}
}
