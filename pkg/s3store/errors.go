package s3store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrFileNotFound is returned when the sidecar or session for an upload id
// cannot be found.
var ErrFileNotFound = errors.New("s3store: upload not found")

// ErrBucketMissing is returned by Client.BucketExists when the configured
// bucket does not exist. Store.Create does not check the bucket itself.
type ErrBucketMissing struct {
	Bucket string
}

func (e ErrBucketMissing) Error() string {
	return fmt.Sprintf("s3store: bucket %q does not exist", e.Bucket)
}

// Kind classifies an error from the object store per §7 of the design.
type Kind int

const (
	// KindTransport covers any S3 error not specifically classified below.
	KindTransport Kind = iota
	// KindRequestTimeout means S3 closed the connection mid-upload. Non-fatal
	// during write: the bytes already flushed remain usable.
	KindRequestTimeout
	// KindNoSuchUpload means the multipart upload is gone, either because it
	// was already completed or never existed.
	KindNoSuchUpload
)

// Classify inspects err for the S3/smithy error codes that receive
// non-fatal handling in Store.Write and Store.GetOffset. A nil err
// classifies as KindTransport; callers must check err != nil first.
func Classify(err error) Kind {
	if isAWSErrorType[*types.NoSuchUpload](err) || isAWSErrorCode(err, "NoSuchUpload") {
		return KindNoSuchUpload
	}
	if isAWSErrorCode(err, "RequestTimeout") {
		return KindRequestTimeout
	}
	return KindTransport
}

func isAWSErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func isAWSErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}

// isNotFoundObject reports whether err indicates that a HeadObject/GetObject
// target does not exist.
func isNotFoundObject(err error) bool {
	return isAWSErrorType[*types.NoSuchKey](err) || isAWSErrorType[*types.NotFound](err) || isAWSErrorCode(err, "NotFound")
}
