package s3store

import (
	"bytes"
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, s3api S3API, minPartSize, partSize int64) *Store {
	t.Helper()
	client := &Client{Service: s3api, Bucket: "uploads", requestDuration: newRequestDurationMetric()}
	cfg := NewConfig()
	cfg.MinPartSize = minPartSize
	cfg.PartSize = partSize
	cfg.TemporaryDirectory = useMemoryTempDir
	return NewStore(client, cfg, zerolog.Nop())
}

func TestStoreCreateWritesSidecarAndOpensMultipartUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	s3api.EXPECT().CreateMultipartUpload(gomock.Any(), gomock.Any()).Return(&s3.CreateMultipartUploadOutput{UploadId: stringPtr("mp-1")}, nil)
	s3api.EXPECT().PutObject(gomock.Any(), gomock.Any()).Return(&s3.PutObjectOutput{}, nil)

	upload, err := store.Create(context.Background(), 30, false, "filename d29ybGQ=", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, upload.ID)
	assert.Equal(t, int64(30), upload.UploadLength)
}

func TestStoreWriteUploadsPartsAndTracksOffset(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	s3api.EXPECT().CreateMultipartUpload(gomock.Any(), gomock.Any()).Return(&s3.CreateMultipartUploadOutput{UploadId: stringPtr("mp-1")}, nil)
	s3api.EXPECT().PutObject(gomock.Any(), gomock.Any()).Return(&s3.PutObjectOutput{}, nil)

	upload, err := store.Create(context.Background(), 20, false, "", nil)
	require.NoError(t, err)

	s3api.EXPECT().ListParts(gomock.Any(), gomock.Any()).Return(&s3.ListPartsOutput{}, nil)
	s3api.EXPECT().UploadPart(gomock.Any(), gomock.Any()).Return(&s3.UploadPartOutput{ETag: stringPtr("etag-1")}, nil)

	written, completed, err := store.Write(context.Background(), upload.ID, 0, bytes.NewReader(bytes.Repeat([]byte("x"), 10)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), written)
	assert.False(t, completed)
}

func TestStoreWriteCompletesUploadAtDeclaredLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	s3api.EXPECT().CreateMultipartUpload(gomock.Any(), gomock.Any()).Return(&s3.CreateMultipartUploadOutput{UploadId: stringPtr("mp-1")}, nil)
	s3api.EXPECT().PutObject(gomock.Any(), gomock.Any()).Return(&s3.PutObjectOutput{}, nil)

	upload, err := store.Create(context.Background(), 10, false, "", nil)
	require.NoError(t, err)

	s3api.EXPECT().ListParts(gomock.Any(), gomock.Any()).Return(&s3.ListPartsOutput{}, nil)
	s3api.EXPECT().UploadPart(gomock.Any(), gomock.Any()).Return(&s3.UploadPartOutput{ETag: stringPtr("etag-1")}, nil)
	s3api.EXPECT().CompleteMultipartUpload(gomock.Any(), gomock.Any()).Return(&s3.CompleteMultipartUploadOutput{}, nil)

	written, completed, err := store.Write(context.Background(), upload.ID, 0, bytes.NewReader(bytes.Repeat([]byte("x"), 10)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), written)
	assert.True(t, completed)
}

func TestStoreGetOffsetSumsContiguousParts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	sidecar := `{"id":"abc","upload_length":100,"upload_defer_length":false,"upload_metadata":"","creation_date":"2026-01-01T00:00:00Z"}`
	s3api.EXPECT().HeadObject(gomock.Any(), gomock.Any()).Return(&s3.HeadObjectOutput{
		Metadata: map[string]string{userMetadataKey: sidecar, "upload_id": "mp-1"},
	}, nil)

	// Part 3 is missing: the offset must stop summing at the gap (I2).
	s3api.EXPECT().ListParts(gomock.Any(), gomock.Any()).Return(&s3.ListPartsOutput{
		Parts: []types.Part{
			{PartNumber: 1, Size: 10, ETag: stringPtr("e1")},
			{PartNumber: 2, Size: 10, ETag: stringPtr("e2")},
			{PartNumber: 4, Size: 10, ETag: stringPtr("e4")},
		},
		IsTruncated: false,
	}, nil)

	offset, err := store.GetOffset(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(20), offset.Size)
	assert.Len(t, offset.Parts, 2)
}

func TestStoreGetOffsetTreatsNoSuchUploadAsCompleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	sidecar := `{"id":"abc","upload_length":100,"upload_defer_length":false,"upload_metadata":"","creation_date":"2026-01-01T00:00:00Z"}`
	s3api.EXPECT().HeadObject(gomock.Any(), gomock.Any()).Return(&s3.HeadObjectOutput{
		Metadata: map[string]string{userMetadataKey: sidecar, "upload_id": "mp-1"},
	}, nil)
	s3api.EXPECT().ListParts(gomock.Any(), gomock.Any()).Return(nil, fakeAPIError{code: "NoSuchUpload"})

	offset, err := store.GetOffset(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), offset.Size)
	assert.Nil(t, offset.Parts)
}

func TestStoreDeclareUploadLengthResolvesDeferredLength(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s3api := NewMockS3API(ctrl)
	store := newTestStore(t, s3api, 5, 10)

	s3api.EXPECT().CreateMultipartUpload(gomock.Any(), gomock.Any()).Return(&s3.CreateMultipartUploadOutput{UploadId: stringPtr("mp-1")}, nil)
	s3api.EXPECT().PutObject(gomock.Any(), gomock.Any()).Return(&s3.PutObjectOutput{}, nil).Times(2)

	upload, err := store.Create(context.Background(), 0, true, "", nil)
	require.NoError(t, err)
	assert.True(t, upload.UploadDeferLength)

	require.NoError(t, store.DeclareUploadLength(context.Background(), upload.ID, 500))

	session, err := store.metadata.GetMetadata(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.False(t, session.File.UploadDeferLength)
	assert.Equal(t, int64(500), session.File.UploadLength)
}

