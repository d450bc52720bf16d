package s3store

import (
	"encoding/json"
	"time"
)

// Upload is the per-upload record persisted in the sidecar object's "file"
// user-metadata entry. Fields the core does not interpret are preserved in
// Extra so a round-trip through the sidecar never loses data a front end
// attached to the record (I1, P1).
type Upload struct {
	ID                string    `json:"id"`
	UploadLength      int64     `json:"upload_length"`
	UploadDeferLength bool      `json:"upload_defer_length"`
	UploadMetadata    string    `json:"upload_metadata"`
	CreationDate      time.Time `json:"creation_date"`

	Extra map[string]json.RawMessage `json:"-"`
}

var uploadOwnFields = map[string]bool{
	"id":                  true,
	"upload_length":       true,
	"upload_defer_length": true,
	"upload_metadata":     true,
	"creation_date":       true,
}

// MarshalJSON flattens Extra alongside Upload's own fields so unknown
// attributes a front end attached round-trip unchanged through the
// sidecar.
func (u Upload) MarshalJSON() ([]byte, error) {
	type alias Upload
	own, err := json.Marshal(alias(u))
	if err != nil {
		return nil, err
	}

	if len(u.Extra) == 0 {
		return own, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(own, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if !uploadOwnFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON parses Upload's own fields and stashes every other
// top-level key in Extra.
func (u *Upload) UnmarshalJSON(data []byte) error {
	type alias Upload
	if err := json.Unmarshal(data, (*alias)(u)); err != nil {
		return err
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := map[string]json.RawMessage{}
	for k, v := range raw {
		if !uploadOwnFields[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		u.Extra = extra
	}
	return nil
}

// UploadSession is the in-memory cache entry for one upload id: the
// Upload record as last read from its sidecar, plus the S3 multipart
// upload id it is associated with.
type UploadSession struct {
	File       *Upload
	UploadID   string
	TusVersion string
}

// Part is one uploaded S3 multipart part.
type Part struct {
	PartNumber int32
	Size       int64
	ETag       string
}

// Offset describes the state of an upload as reconstructed from its
// uploaded parts.
type Offset struct {
	Upload

	// Size is the cumulative size of all contiguous parts uploaded so far,
	// or UploadLength if the multipart upload has already been completed.
	Size int64

	// Parts is nil once the multipart upload has been completed (there is
	// nothing left to list).
	Parts []Part
}
