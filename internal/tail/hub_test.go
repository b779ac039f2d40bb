package tail

import "testing"

func TestHubPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("job-1")
	defer h.Unsubscribe(sub)

	h.Publish("job-1", "stdout", []byte("hello"))

	select {
	case c := <-sub.Chan():
		if c.Data != "hello" || c.Stream != "stdout" || c.JobID != "job-1" {
			t.Errorf("unexpected chunk: %+v", c)
		}
	default:
		t.Fatal("expected a chunk to be delivered")
	}
}

func TestHubPublishIgnoresOtherJobs(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("job-1")
	defer h.Unsubscribe(sub)

	h.Publish("job-2", "stdout", []byte("unrelated"))

	select {
	case c := <-sub.Chan():
		t.Fatalf("expected no chunk, got %+v", c)
	default:
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("job-1")
	h.Unsubscribe(sub)

	if h.HasSubscribers("job-1") {
		t.Errorf("expected no subscribers after Unsubscribe")
	}
	h.Publish("job-1", "stdout", []byte("data"))
	select {
	case <-sub.Chan():
		t.Fatalf("expected no delivery to unsubscribed channel")
	default:
	}
}

func TestHubHasSubscribers(t *testing.T) {
	h := NewHub()
	if h.HasSubscribers("job-1") {
		t.Errorf("expected no subscribers initially")
	}
	sub := h.Subscribe("job-1")
	defer h.Unsubscribe(sub)
	if !h.HasSubscribers("job-1") {
		t.Errorf("expected subscriber after Subscribe")
	}
}

func TestHubSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("job-1")
	defer h.Unsubscribe(sub)

	for i := 0; i < 300; i++ {
		h.Publish("job-1", "stdout", []byte("x"))
	}
	// Should not deadlock or panic; channel has bounded capacity and
	// Publish drops when full.
}
