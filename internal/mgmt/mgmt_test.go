package mgmt

import (
	"bytes"
	"context"
	"testing"
)

func TestDrainQueuesRequiresQueueNames(t *testing.T) {
	tool := New(nil, &bytes.Buffer{})
	err := tool.DrainQueues(nil, nil)
	if err == nil {
		t.Fatal("expected error when no queue names are given")
	}
}

func TestControlNodesNoOpOnEmptyNodeList(t *testing.T) {
	var buf bytes.Buffer
	tool := New(nil, &buf)
	if err := tool.ControlNodes(context.Background(), nil, "pause", ""); err != nil {
		t.Fatalf("expected no error with zero nodes, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output with zero nodes, got %q", buf.String())
	}
}

func TestListNodesReportsNoRegistry(t *testing.T) {
	var buf bytes.Buffer
	tool := New(nil, &buf)
	if err := tool.ListNodes("localhost:7711"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("localhost:7711")) {
		t.Errorf("expected broker address in output, got %q", buf.String())
	}
}
