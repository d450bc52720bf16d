package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// useMemoryTempDir, when set as a Splitter's TempDir, buffers chunks in
// memory instead of spooling them to disk. Useful for tests and for small
// deployments without fast local storage.
const useMemoryTempDir = "_memory"

// Chunk is one bounded-size piece of the upload stream, ready to be
// uploaded as a single S3 part. Reader must be consumed and Close called
// exactly once by whoever receives the Chunk.
type Chunk struct {
	Reader io.ReadSeeker
	Close  func() error
	Size   int64
}

// ChunkEvent is sent on the channel Split returns: exactly one of Chunk or
// Err is meaningful. The channel is closed after the first Err, or after
// the source is fully read.
type ChunkEvent struct {
	Chunk Chunk
	Err   error
}

// Splitter converts an io.Reader into a sequence of part-sized Chunks,
// spilling each to a temporary file (or an in-memory buffer) so it can be
// retried against S3 without re-reading the original stream.
type Splitter struct {
	TempDir string

	diskWriteDuration prometheus.Summary
}

// NewSplitter constructs a Splitter. diskWriteDuration may be nil, in which
// case chunk-write timings are not recorded.
func NewSplitter(tempDir string, diskWriteDuration prometheus.Summary) *Splitter {
	return &Splitter{TempDir: tempDir, diskWriteDuration: diskWriteDuration}
}

// Split reads r in partSize-sized pieces and emits one ChunkEvent per
// piece on the returned channel, in order. Reading stops as soon as ctx is
// done; the caller is still responsible for calling Close on every Chunk
// already received.
func (s *Splitter) Split(ctx context.Context, r io.Reader, partSize int64) <-chan ChunkEvent {
	events := make(chan ChunkEvent)

	go func() {
		defer close(events)
		for {
			chunk, ok, err := s.nextChunk(r, partSize)
			if err != nil {
				events <- ChunkEvent{Err: err}
				return
			}
			if !ok {
				return
			}
			select {
			case events <- ChunkEvent{Chunk: chunk}:
			case <-ctx.Done():
				chunk.Close()
				return
			}
		}
	}()

	return events
}

func (s *Splitter) nextChunk(r io.Reader, size int64) (Chunk, bool, error) {
	if s.TempDir == useMemoryTempDir {
		return s.nextChunkInMemory(r, size)
	}

	file, err := os.CreateTemp(s.TempDir, "s3tus-part-")
	if err != nil {
		return Chunk{}, false, err
	}

	start := time.Now()
	n, err := io.Copy(file, io.LimitReader(r, size))
	if err != nil {
		cleanUpTempFile(file)
		return Chunk{}, false, err
	}

	// io.Copy returns 0 only once the source is exhausted.
	if n == 0 {
		cleanUpTempFile(file)
		return Chunk{}, false, nil
	}
	s.observeWrite(start)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		cleanUpTempFile(file)
		return Chunk{}, false, err
	}

	return Chunk{
		Reader: file,
		Close: func() error {
			if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				return err
			}
			return os.Remove(file.Name())
		},
		Size: n,
	}, true, nil
}

func (s *Splitter) nextChunkInMemory(r io.Reader, size int64) (Chunk, bool, error) {
	buf := new(bytes.Buffer)

	start := time.Now()
	n, err := io.Copy(buf, io.LimitReader(r, size))
	if err != nil {
		return Chunk{}, false, err
	}
	if n == 0 {
		return Chunk{}, false, nil
	}
	s.observeWrite(start)

	return Chunk{
		Reader: bytes.NewReader(buf.Bytes()),
		Close:  func() error { return nil },
		Size:   n,
	}, true, nil
}

func (s *Splitter) observeWrite(start time.Time) {
	if s.diskWriteDuration == nil {
		return
	}
	s.diskWriteDuration.Observe(float64(time.Since(start).Milliseconds()))
}

func cleanUpTempFile(file *os.File) {
	file.Close()
	os.Remove(file.Name())
}
