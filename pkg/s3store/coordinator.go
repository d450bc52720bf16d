package s3store

import (
	"context"
	"sync"

	"github.com/resumable/s3tus/internal/semaphore"
)

// Coordinator drives one Write call: it pulls Chunks off a Splitter,
// applies the small-tail policy (I3), assigns contiguous part numbers, and
// uploads eligible parts to S3 concurrently while keeping their count
// bounded by a semaphore.
type Coordinator struct {
	client      *Client
	sem         semaphore.Semaphore
	minPartSize int64
	metrics     *ChunkMetrics
}

// NewCoordinator constructs a Coordinator that never runs more than
// maxConcurrent part uploads at once.
func NewCoordinator(client *Client, maxConcurrent int, minPartSize int64) *Coordinator {
	return &Coordinator{
		client:      client,
		sem:         semaphore.New(maxConcurrent),
		minPartSize: minPartSize,
		metrics:     &ChunkMetrics{},
	}
}

// partResult is the outcome of uploading one Chunk as an S3 part.
type partResult struct {
	part     Part
	uploaded bool
}

// Upload consumes every ChunkEvent from events, uploading chunks that meet
// the small-tail policy as S3 parts numbered from nextPartNumber upward,
// and discarding any non-final chunk smaller than the coordinator's
// MinPartSize. totalOffset is the upload's offset before this Write call,
// and declaredLength/lengthDeferred identify whether the current chunk can
// be recognized as the final one (I3).
//
// It returns the number of bytes accepted (discarded chunks do not count,
// since the client is expected to resend them) and the contiguous parts
// that were actually uploaded to S3, in part order. A non-nil error means
// the Write call failed partway through; bytesAccepted and parts still
// describe what succeeded before the error.
func (c *Coordinator) Upload(ctx context.Context, key, uploadID string, nextPartNumber int32, totalOffset, declaredLength int64, lengthDeferred bool, events <-chan ChunkEvent) (bytesAccepted int64, parts []Part, err error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  []*partResult
		firstErr error
	)

	recordErr := func(e error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = e
		}
		mu.Unlock()
	}

	partNum := nextPartNumber
	offset := totalOffset

	for event := range events {
		if event.Err != nil {
			recordErr(event.Err)
			break
		}

		chunk := event.Chunk
		isFinal := !lengthDeferred && declaredLength == offset+bytesAccepted+chunk.Size

		if chunk.Size < c.minPartSize && !isFinal {
			// Small-tail policy: the client is expected to resend these
			// bytes as part of a larger chunk.
			chunk.Close()
			c.metrics.recordDiscarded()
			continue
		}

		result := &partResult{part: Part{PartNumber: partNum, Size: chunk.Size}}
		results = append(results, result)
		bytesAccepted += chunk.Size
		partNum++

		c.sem.Acquire()
		wg.Add(1)
		go func(chunk Chunk, result *partResult) {
			defer wg.Done()
			defer c.sem.Release()
			defer chunk.Close()

			etag, err := c.client.UploadPart(ctx, key, uploadID, result.part.PartNumber, chunk.Reader, chunk.Size)
			if err != nil {
				recordErr(err)
				c.metrics.recordFailed()
				return
			}
			result.part.ETag = etag
			result.uploaded = true
			c.metrics.recordUploaded()
		}(chunk, result)
	}

	wg.Wait()

	bytesAccepted = 0
	for _, r := range results {
		if !r.uploaded {
			break
		}
		parts = append(parts, r.part)
		bytesAccepted += r.part.Size
	}

	if firstErr != nil {
		return bytesAccepted, parts, firstErr
	}
	return bytesAccepted, parts, nil
}
