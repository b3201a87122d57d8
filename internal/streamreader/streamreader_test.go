package streamreader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderChunksSmallFile(t *testing.T) {
	path := writeTemp(t, "hello world")
	r, err := Open(path, Options{ChunkSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	chunk, err := r.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(chunk.New()) != "hello world" {
		t.Fatalf("got %q", chunk.New())
	}
	if !chunk.Final {
		t.Fatal("expected final chunk")
	}

	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderCarriesContextAcrossBoundary(t *testing.T) {
	content := strings.Repeat("a", 10) + "MATCH" + strings.Repeat("b", 10)
	path := writeTemp(t, content)

	r, err := Open(path, Options{ChunkSize: 10, ContextSize: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var full []byte
	for {
		chunk, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		full = append(full, chunk.New()...)
		if chunk.ContextLen > 0 && chunk.ContextLen > len(chunk.Data) {
			t.Fatalf("context length %d exceeds data length %d", chunk.ContextLen, len(chunk.Data))
		}
	}
	if string(full) != content {
		t.Fatalf("reassembled content mismatch: got %q", full)
	}
}

func TestReaderRespectsMaxBytes(t *testing.T) {
	path := writeTemp(t, strings.Repeat("x", 1000))
	r, err := Open(path, Options{ChunkSize: 100, MaxBytes: 250})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var total int
	for {
		chunk, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		total += len(chunk.New())
	}
	if total != 250 {
		t.Fatalf("expected exactly 250 bytes read, got %d", total)
	}
}

func TestReaderRespectsCancelledContext(t *testing.T) {
	path := writeTemp(t, "data")
	r, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
}
