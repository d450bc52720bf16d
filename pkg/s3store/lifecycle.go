package s3store

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Extensions lists the tus protocol extensions this store supports, for a
// front end to advertise in its OPTIONS response.
func Extensions() []string {
	return []string{"creation", "creation-with-upload", "creation-defer-length"}
}

// Store implements the upload lifecycle (create, write, offset lookup,
// deferred-length declaration) against one S3-compatible bucket.
type Store struct {
	client      *Client
	metadata    *MetadataStore
	splitter    *Splitter
	coordinator *Coordinator
	partSize    int64
	log         zerolog.Logger
}

// NewStore wires a Client, MetadataStore, Splitter and Coordinator into a
// Store ready to drive upload lifecycles. log may be the zero value, in
// which case lifecycle events are discarded.
func NewStore(client *Client, cfg Config, log zerolog.Logger) *Store {
	return &Store{
		client:      client,
		metadata:    NewMetadataStore(client),
		splitter:    NewSplitter(cfg.TemporaryDirectory, nil),
		coordinator: NewCoordinator(client, cfg.MaxConcurrentUploads, cfg.MinPartSize),
		partSize:    cfg.PartSize,
		log:         log,
	}
}

// Create opens a new upload: an S3 multipart upload to receive its bytes
// and a sidecar object recording its metadata. The returned Upload's ID is
// generated here, since the front end that calls Create does not produce
// one itself.
func (s *Store) Create(ctx context.Context, length int64, deferLength bool, rawMetadata string, extra map[string][]byte) (*Upload, error) {
	id := uuid.NewString()

	parsed := ParseMetadataString(rawMetadata)
	userMeta := make(map[string]string, len(parsed))
	for k, v := range parsed {
		userMeta[k] = coerceASCII(v)
	}

	contentType := parsed["contentType"]
	if name, ok := parsed["filename"]; ok && name != "" {
		userMeta["original_name"] = base64.StdEncoding.EncodeToString([]byte(name))
	}

	uploadID, err := s.client.CreateMultipartUpload(ctx, id, userMeta, contentType)
	if err != nil {
		return nil, fmt.Errorf("s3store: creating multipart upload: %w", err)
	}

	upload := &Upload{
		ID:                id,
		UploadLength:      length,
		UploadDeferLength: deferLength,
		UploadMetadata:    rawMetadata,
		CreationDate:      time.Now().UTC(),
	}

	session := &UploadSession{
		File:       upload,
		UploadID:   uploadID,
		TusVersion: "1.0.0",
	}

	if err := s.metadata.SaveMetadata(ctx, session); err != nil {
		return nil, fmt.Errorf("s3store: writing sidecar: %w", err)
	}

	s.log.Info().Str("upload_id", id).Int64("length", length).Bool("defer_length", deferLength).Msg("upload created")
	return upload, nil
}

// Write appends src, starting at offset, to id's multipart upload. It
// returns the number of bytes accepted (which may be less than len(src)'s
// total size if the final chunk was smaller than the object store's
// minimum part size and was therefore discarded under the small-tail
// policy) and whether the upload has now reached its declared length.
// A RequestTimeout or NoSuchUpload error from S3 is not returned: Write
// reports the bytes of the parts that reached S3 and keeps the cached
// session, so the client can resume.
func (s *Store) Write(ctx context.Context, id string, offset int64, src io.Reader) (bytesWritten int64, completed bool, err error) {
	session, err := s.metadata.GetMetadata(ctx, id)
	if err != nil {
		return 0, false, err
	}

	current, err := s.offsetFromParts(ctx, id, session)
	if err != nil {
		return 0, false, err
	}

	events := s.splitter.Split(ctx, src, s.partSize)
	nextPartNumber := int32(len(current.Parts) + 1)

	accepted, uploadedParts, err := s.coordinator.Upload(ctx, id, session.UploadID, nextPartNumber, offset, session.File.UploadLength, session.File.UploadDeferLength, events)
	if err != nil {
		kind := Classify(err)
		if kind == KindRequestTimeout {
			s.log.Warn().Str("upload_id", id).Err(err).Msg("write interrupted by request timeout, partial bytes retained")
			return accepted, false, nil
		}
		if kind == KindNoSuchUpload {
			s.log.Warn().Str("upload_id", id).Msg("multipart upload already completed")
			return accepted, false, nil
		}
		s.metadata.ClearCache(id)
		return accepted, false, err
	}

	newOffset := offset + accepted
	completed = !session.File.UploadDeferLength && newOffset >= session.File.UploadLength

	s.log.Debug().Str("upload_id", id).Int64("bytes_written", accepted).Int("parts_uploaded", len(uploadedParts)).Bool("completed", completed).Msg("write finished")

	if completed {
		if err := s.complete(ctx, id, session, current.Parts, uploadedParts); err != nil {
			return accepted, false, err
		}
	}

	return accepted, completed, nil
}

// complete merges the parts already on record with the ones just uploaded
// and finalizes the multipart upload.
func (s *Store) complete(ctx context.Context, id string, session *UploadSession, existing, fresh []Part) error {
	all := append(append([]Part{}, existing...), fresh...)

	if len(all) == 0 {
		// S3 requires at least one part; a zero-length upload gets an
		// explicit empty one.
		etag, err := s.client.UploadPart(ctx, id, session.UploadID, 1, bytes.NewReader(nil), 0)
		if err != nil {
			return fmt.Errorf("s3store: uploading empty part for zero-length upload: %w", err)
		}
		all = []Part{{PartNumber: 1, Size: 0, ETag: etag}}
	}

	if err := s.client.CompleteMultipartUpload(ctx, id, session.UploadID, all); err != nil {
		return fmt.Errorf("s3store: completing multipart upload: %w", err)
	}

	s.log.Info().Str("upload_id", id).Int("parts", len(all)).Msg("upload completed")
	return nil
}

// GetOffset reconstructs an upload's current offset by listing its parts
// and summing the contiguous prefix (I2): a gap in part numbers can only
// follow a prior partial failure, and everything past the gap is not
// durably recorded, so it is excluded.
func (s *Store) GetOffset(ctx context.Context, id string) (Offset, error) {
	session, err := s.metadata.GetMetadata(ctx, id)
	if err != nil {
		return Offset{}, err
	}

	return s.offsetFromParts(ctx, id, session)
}

func (s *Store) offsetFromParts(ctx context.Context, id string, session *UploadSession) (Offset, error) {
	parts, err := s.listParts(ctx, id, session.UploadID)
	if err != nil {
		kind := Classify(err)
		if kind == KindNoSuchUpload {
			// The multipart upload is gone because it was already
			// completed; the upload is therefore fully at its declared
			// length.
			return Offset{Upload: *session.File, Size: session.File.UploadLength, Parts: nil}, nil
		}
		return Offset{}, err
	}

	var size int64
	contiguous := make([]Part, 0, len(parts))
	for i, p := range parts {
		if p.PartNumber != int32(i+1) {
			break
		}
		contiguous = append(contiguous, p)
		size += p.Size
	}

	return Offset{Upload: *session.File, Size: size, Parts: contiguous}, nil
}

// listParts pages through every uploaded part of id's multipart upload,
// in ascending PartNumber order.
func (s *Store) listParts(ctx context.Context, id, uploadID string) ([]Part, error) {
	var all []Part
	var marker *string
	for {
		page, next, err := s.client.ListPartsPage(ctx, id, uploadID, marker)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == nil {
			break
		}
		marker = next
	}
	return all, nil
}

// RegisterMetrics registers the store's request-duration and chunk-outcome
// collectors with reg.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	if err := s.client.RegisterMetrics(reg); err != nil {
		return err
	}
	return reg.Register(s.coordinator.metrics)
}

// DeclareUploadLength resolves a deferred-length upload (creation-defer-length
// extension) once the client learns the upload's final size.
func (s *Store) DeclareUploadLength(ctx context.Context, id string, length int64) error {
	session, err := s.metadata.GetMetadata(ctx, id)
	if err != nil {
		return err
	}
	if !session.File.UploadDeferLength {
		return fmt.Errorf("s3store: upload %q does not have a deferred length", id)
	}

	session.File.UploadLength = length
	session.File.UploadDeferLength = false

	return s.metadata.SaveMetadata(ctx, session)
}
