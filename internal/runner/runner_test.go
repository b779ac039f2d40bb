package runner

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	p := NewPool(2)
	res, err := p.Run(context.Background(), t.TempDir(), "echo hi", os.Environ(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "hi\n" {
		t.Errorf("output = %q, want %q", res.Output, "hi\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Timeout {
		t.Errorf("expected no timeout")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	p := NewPool(1)
	res, err := p.Run(context.Background(), t.TempDir(), "exit 3", os.Environ(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	p := NewPool(1)
	res, err := p.Run(context.Background(), t.TempDir(), "sleep 5", os.Environ(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Timeout {
		t.Errorf("expected timeout")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(1)
	done := make(chan struct{})
	go func() {
		_, _ = p.Run(context.Background(), t.TempDir(), "sleep 0.2", os.Environ(), time.Second)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	_, err := p.Run(context.Background(), t.TempDir(), "true", os.Environ(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Errorf("expected second Run to wait for the pool slot")
	}
	<-done
}
