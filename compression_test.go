package flume

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestGzipFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.log")
	content := "line one\nline two\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := gzipFile(path); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original not removed after compression")
	}
	if got := readGzip(t, path+".gz"); got != content {
		t.Errorf("decompressed = %q, want %q", got, content)
	}
}

func TestGzipFileMissingSource(t *testing.T) {
	// Retention may prune a file between queueing and compression.
	if err := gzipFile(filepath.Join(t.TempDir(), "gone.log")); err != nil {
		t.Errorf("missing source should be a no-op, got %v", err)
	}
}

func TestCompressorStopDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, "a.log.2026010"+string(rune('1'+i))+"-000000.000")
		if err := os.WriteFile(paths[i], []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c := newCompressor(2, func(err error) { t.Errorf("compressor error: %v", err) })
	for _, p := range paths {
		c.enqueue(p)
	}
	c.stop()

	for _, p := range paths {
		if _, err := os.Stat(p + ".gz"); err != nil {
			t.Errorf("%s not compressed: %v", p, err)
		}
	}
}

func TestCompressorEnqueueAfterStop(t *testing.T) {
	c := newCompressor(1, nil)
	c.stop()
	// Must not panic on the closed channel.
	c.enqueue(filepath.Join(t.TempDir(), "late.log"))
}
