// Package s3store adapts the tus resumable-upload protocol onto an
// S3-compatible object store.
//
// # Implementation
//
// Once an upload is created, two objects exist in the bucket: a zero-byte
// ".info" sidecar carrying the JSON-encoded Upload record in its user
// metadata, and an S3 multipart upload which collects the actual bytes.
// Every PATCH-equivalent write is split into part-sized files on local
// disk (see Splitter), each of which is uploaded as one S3 part (see
// Coordinator) unless it is below the minimum part size and is not known
// to be the final chunk of the upload.
//
// S3 requires every part but the last to be at least 5 MiB. Splitter
// chunks smaller than that are not final are discarded rather than
// uploaded (the "small tail" policy); tus permits a server to accept less
// than it was offered, so the client is expected to resend the bytes as
// part of a larger chunk.
//
// Metadata attached to the multipart upload can only contain ASCII;
// non-ASCII bytes are replaced with "?" there, but the unmodified metadata
// always survives in the sidecar and is what offset/info queries return.
//
// The HTTP/tus front end, its routing, and authentication are not part of
// this package; it exposes only the lifecycle operations (Create, Write,
// GetOffset, DeclareUploadLength) a front end drives per request.
package s3store
