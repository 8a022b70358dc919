package flume

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// compressor runs background workers that gzip archived log files queued by
// rotation upkeep. Compression is asynchronous so rotation's critical
// section stays short.
type compressor struct {
	ch      chan string
	wg      sync.WaitGroup
	onError func(error)

	mu     sync.Mutex
	closed bool
}

func newCompressor(workers int, onError func(error)) *compressor {
	if workers < 1 {
		workers = defaultCompressWorkers
	}
	c := &compressor{
		ch:      make(chan string, 100),
		onError: onError,
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for path := range c.ch {
				if err := gzipFile(path); err != nil && c.onError != nil {
					c.onError(fmt.Errorf("compressing %s: %w", path, err))
				}
			}
		}()
	}
	return c
}

// enqueue queues path for compression. A full queue skips the file rather
// than stalling rotation; the next upkeep pass re-queues it.
func (c *compressor) enqueue(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- path:
	default:
		if c.onError != nil {
			c.onError(fmt.Errorf("compression queue full, skipping %s", path))
		}
	}
}

// stop drains the queue and waits for the workers to finish.
func (c *compressor) stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
	c.wg.Wait()
}

// gzipFile compresses path to path.gz and removes the original. A partially
// written .gz is cleaned up on failure so upkeep never mistakes it for a
// finished archive.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // already compressed or pruned by retention
		}
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	compressedPath := path + ".gz"
	dst, err := os.OpenFile(compressedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating compressed file: %w", err)
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(compressedPath)
		return fmt.Errorf("compressing: %w", err)
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(compressedPath)
		return fmt.Errorf("finishing gzip stream: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(compressedPath)
		return fmt.Errorf("closing compressed file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		os.Remove(compressedPath)
		return fmt.Errorf("removing original after compression: %w", err)
	}
	return nil
}
