package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slog"
)

// S3API is the subset of the S3 API the core engine needs. It is satisfied
// by *s3.Client and by fakes in tests.
type S3API interface {
	HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opt ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, input *s3.CreateMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opt ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opt ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	UploadPart(ctx context.Context, input *s3.UploadPartInput, opt ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, input *s3.ListPartsInput, opt ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, input *s3.CompleteMultipartUploadInput, opt ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

// Client is a thin, typed facade over the S3 operations the core engine
// uses, adding the bucket/prefix bookkeeping and request-duration metrics
// every call needs.
type Client struct {
	Service S3API
	Bucket  string
	Prefix  string

	requestDuration *prometheus.SummaryVec
}

// The label values used with requestDuration, one per operation.
const (
	opHeadBucket              = "head_bucket"
	opCreateMultipartUpload   = "create_multipart_upload"
	opPutObject               = "put_object"
	opHeadObject              = "head_object"
	opUploadPart              = "upload_part"
	opListParts               = "list_parts"
	opCompleteMultipartUpload = "complete_multipart_upload"
)

// NewClient builds an aws-sdk-go-v2 S3 client from cfg: static credentials
// (optionally exchanged for an assumed role via STS), path-style addressing
// and a custom endpoint for S3-compatible providers, and an exponential
// backoff retryer.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	} else if !cfg.UseSDKDefaults {
		return nil, fmt.Errorf("s3store: no static credentials provided and UseSDKDefaults is false")
	}

	opts = append(opts, awsconfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = cfg.MaxRetries
			o.MaxBackoff = cfg.BackoffMax
			o.Backoff = exponentialBackoff(cfg)
		})
	}))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: unable to load AWS config: %w", err)
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = &cfg.ExternalID
			}
			o.RoleSessionName = "s3tus-assume-role"
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	var service S3API = s3Client
	if cfg.EnableLogging {
		service = WithLogging(service, slog.Default())
	}

	return &Client{
		Service:         service,
		Bucket:          cfg.Bucket,
		Prefix:          cfg.ObjectPrefix,
		requestDuration: newRequestDurationMetric(),
	}, nil
}

func newRequestDurationMetric() *prometheus.SummaryVec {
	return prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "s3tus_request_duration_ms",
		Help:       "Duration of requests sent to the object store in milliseconds, per operation.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"operation"})
}

// RegisterMetrics registers the client's request-duration metric with reg.
func (c *Client) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(c.requestDuration)
}

func (c *Client) observe(start time.Time, op string) {
	c.requestDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

// exponentialBackoff adapts cenkalti/backoff's exponential strategy to the
// SDK's per-attempt BackoffDelayer shape.
func exponentialBackoff(cfg Config) retry.BackoffDelayerFunc {
	return func(attempt int, err error) (time.Duration, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.BackoffInitial
		b.MaxInterval = cfg.BackoffMax
		b.MaxElapsedTime = 0
		b.Multiplier = 2.0
		b.RandomizationFactor = 0.1
		b.Reset()

		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
		}
		return delay, nil
	}
}

// keyWithPrefix prepends the client's configured object prefix to key.
func (c *Client) keyWithPrefix(key string) *string {
	prefix := c.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return aws.String(prefix + key)
}

// BucketExists issues HeadBucket, returning ErrBucketMissing on a 404 and
// surfacing any other error verbatim.
func (c *Client) BucketExists(ctx context.Context) error {
	start := time.Now()
	_, err := c.Service.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.Bucket)})
	c.observe(start, opHeadBucket)
	if err == nil {
		return nil
	}
	if isNotFoundObject(err) {
		return ErrBucketMissing{Bucket: c.Bucket}
	}
	return err
}

// CreateMultipartUpload opens a new S3 multipart upload at key and returns
// its upload id.
func (c *Client) CreateMultipartUpload(ctx context.Context, key string, userMetadata map[string]string, contentType string) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(c.Bucket),
		Key:      c.keyWithPrefix(key),
		Metadata: userMetadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	start := time.Now()
	out, err := c.Service.CreateMultipartUpload(ctx, input)
	c.observe(start, opCreateMultipartUpload)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.UploadId), nil
}

// PutObject uploads body as key's entire content. Used only for the
// sidecar object.
func (c *Client) PutObject(ctx context.Context, key string, body []byte, userMetadata map[string]string) error {
	start := time.Now()
	_, err := c.Service.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.Bucket),
		Key:           c.keyWithPrefix(key),
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		Metadata:      userMetadata,
	})
	c.observe(start, opPutObject)
	return err
}

// HeadObject returns key's user metadata map.
func (c *Client) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	out, err := c.Service.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    c.keyWithPrefix(key),
	})
	c.observe(start, opHeadObject)
	if err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

// UploadPart uploads one part of an open multipart upload, reading exactly
// size bytes from body, and returns its ETag.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	start := time.Now()
	out, err := c.Service.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.Bucket),
		Key:           c.keyWithPrefix(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    partNumber,
		Body:          body,
		ContentLength: size,
	})
	c.observe(start, opUploadPart)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

// ListPartsPage returns one page of parts for an open multipart upload and
// the marker to pass for the next page, or nil if this was the last page.
func (c *Client) ListPartsPage(ctx context.Context, key, uploadID string, marker *string) ([]Part, *string, error) {
	start := time.Now()
	out, err := c.Service.ListParts(ctx, &s3.ListPartsInput{
		Bucket:           aws.String(c.Bucket),
		Key:              c.keyWithPrefix(key),
		UploadId:         aws.String(uploadID),
		PartNumberMarker: marker,
	})
	c.observe(start, opListParts)
	if err != nil {
		return nil, nil, err
	}

	parts := make([]Part, 0, len(out.Parts))
	for _, p := range out.Parts {
		parts = append(parts, Part{
			PartNumber: p.PartNumber,
			Size:       p.Size,
			ETag:       aws.ToString(p.ETag),
		})
	}

	if out.IsTruncated {
		return parts, out.NextPartNumberMarker, nil
	}
	return parts, nil, nil
}

// CompleteMultipartUpload finalizes an open multipart upload with parts,
// which callers must supply in ascending PartNumber order.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: p.PartNumber,
			ETag:       aws.String(p.ETag),
		}
	}

	start := time.Now()
	_, err := c.Service.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.Bucket),
		Key:             c.keyWithPrefix(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	c.observe(start, opCompleteMultipartUpload)
	return err
}
