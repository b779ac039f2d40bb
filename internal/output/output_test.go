package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("build output line\n", 500))

	compressed, err := compress(original)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(original) {
		t.Errorf("expected compression to shrink repetitive text: %d >= %d", len(compressed), len(original))
	}

	decompressed, err := decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Errorf("round trip mismatch")
	}
}

func TestArchiveKey(t *testing.T) {
	a := &Archive{bucket: "b", prefix: "dwq-output"}
	got := a.key("job-42")
	want := "dwq-output/job-42/output.log.gz"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestInlineLimitBytes(t *testing.T) {
	if InlineLimitBytes <= 0 {
		t.Errorf("InlineLimitBytes must be positive")
	}
}
