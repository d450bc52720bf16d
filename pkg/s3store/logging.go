package s3store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ S3API = &loggingS3API{}

// loggingS3API wraps an S3API, logging every call at debug level with its
// input, output and duration. Request/response bodies are stripped before
// logging since they can be arbitrarily large.
type loggingS3API struct {
	wrapped S3API
	logger  *slog.Logger
}

// WithLogging wraps api so that every call is logged to logger at debug
// level.
func WithLogging(api S3API, logger *slog.Logger) S3API {
	return &loggingS3API{wrapped: api, logger: logger}
}

func sanitizeForLogging(v interface{}) interface{} {
	switch input := v.(type) {
	case *s3.PutObjectInput:
		sanitized := *input
		sanitized.Body = nil
		return sanitized
	case *s3.UploadPartInput:
		sanitized := *input
		sanitized.Body = nil
		return sanitized
	default:
		return v
	}
}

func jsonEncode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("{\"error\":\"failed to marshal: %v\"}", err)
	}
	return string(data)
}

func (l *loggingS3API) logCall(operation string, input, output interface{}, err error, duration time.Duration) {
	attrs := []any{
		"operation", operation,
		"input", jsonEncode(sanitizeForLogging(input)),
		"duration_ms", duration.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	} else {
		attrs = append(attrs, "output", jsonEncode(sanitizeForLogging(output)))
	}
	l.logger.Debug("s3_api_call", attrs...)
}

func (l *loggingS3API) HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opt ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	start := time.Now()
	output, err := l.wrapped.HeadBucket(ctx, input, opt...)
	l.logCall("HeadBucket", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) CreateMultipartUpload(ctx context.Context, input *s3.CreateMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	start := time.Now()
	output, err := l.wrapped.CreateMultipartUpload(ctx, input, opt...)
	l.logCall("CreateMultipartUpload", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) PutObject(ctx context.Context, input *s3.PutObjectInput, opt ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	start := time.Now()
	output, err := l.wrapped.PutObject(ctx, input, opt...)
	l.logCall("PutObject", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) HeadObject(ctx context.Context, input *s3.HeadObjectInput, opt ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	output, err := l.wrapped.HeadObject(ctx, input, opt...)
	l.logCall("HeadObject", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) UploadPart(ctx context.Context, input *s3.UploadPartInput, opt ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	start := time.Now()
	output, err := l.wrapped.UploadPart(ctx, input, opt...)
	l.logCall("UploadPart", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) ListParts(ctx context.Context, input *s3.ListPartsInput, opt ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	start := time.Now()
	output, err := l.wrapped.ListParts(ctx, input, opt...)
	l.logCall("ListParts", input, output, err, time.Since(start))
	return output, err
}

func (l *loggingS3API) CompleteMultipartUpload(ctx context.Context, input *s3.CompleteMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	start := time.Now()
	output, err := l.wrapped.CompleteMultipartUpload(ctx, input, opt...)
	l.logCall("CompleteMultipartUpload", input, output, err, time.Since(start))
	return output, err
}
