package s3store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ParsedMetadata is the decoded form of a tus Upload-Metadata header: a
// map of key/value pairs, values optionally empty. The order of the pairs
// in the header is not kept.
type ParsedMetadata map[string]string

// ParseMetadataString decodes a tus Upload-Metadata header of the form
// "key1 base64value1,key2 base64value2,key3". Malformed pairs are skipped
// rather than rejected outright, matching the front end's tolerance for
// clients that send a trailing comma or duplicate key.
func ParseMetadataString(s string) ParsedMetadata {
	meta := ParsedMetadata{}
	if s == "" {
		return meta
	}

	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if parts[0] == "" {
			continue
		}
		if len(parts) == 1 {
			meta[parts[0]] = ""
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		meta[parts[0]] = string(decoded)
	}
	return meta
}

// nonASCII matches any byte outside the printable ASCII range. S3 object
// metadata values must be ASCII; this produces the coerced copy stored on
// the multipart upload while the sidecar keeps the original (I5).
var nonASCII = regexp.MustCompile(`[^\x20-\x7E]`)

func coerceASCII(s string) string {
	return nonASCII.ReplaceAllString(s, "?")
}

// userMetadataKey is the S3 object-metadata key under which the
// JSON-encoded Upload record travels on the sidecar. The multipart upload
// itself does not carry it.
const userMetadataKey = "file"

// uploadIDMetadataKeys are the key spellings providers use for the S3
// upload id stashed alongside the sidecar's own record. DigitalOcean
// Spaces lower-cases and hyphenates header names it echoes back, so the
// key SaveMetadata writes as "upload_id" can come back as "upload-id" (P7).
var uploadIDMetadataKeys = []string{"upload_id", "upload-id"}

const tusVersionMetadataKey = "tus_version"

// MetadataStore persists and retrieves the sidecar ".info" object and
// caches the Upload/UploadSession pair for an upload id in memory so a
// Write call that follows a recent Create or GetOffset does not need to
// round-trip S3 again.
type MetadataStore struct {
	client *Client

	mu    sync.Mutex
	cache map[string]*UploadSession
}

// NewMetadataStore constructs a MetadataStore backed by client.
func NewMetadataStore(client *Client) *MetadataStore {
	return &MetadataStore{
		client: client,
		cache:  map[string]*UploadSession{},
	}
}

func sidecarKey(id string) string {
	return id + ".info"
}

// SaveMetadata writes id's sidecar object and populates the in-memory
// cache entry for id.
func (m *MetadataStore) SaveMetadata(ctx context.Context, session *UploadSession) error {
	body, err := json.Marshal(session.File)
	if err != nil {
		return fmt.Errorf("s3store: encoding upload record: %w", err)
	}

	userMeta := map[string]string{
		userMetadataKey:       string(body),
		"upload_id":           session.UploadID,
		tusVersionMetadataKey: session.TusVersion,
	}

	if err := m.client.PutObject(ctx, sidecarKey(session.File.ID), nil, userMeta); err != nil {
		return err
	}

	m.mu.Lock()
	m.cache[session.File.ID] = session
	m.mu.Unlock()
	return nil
}

// GetMetadata returns the cached session for id if present, otherwise
// fetches and decodes the sidecar object and populates the cache.
func (m *MetadataStore) GetMetadata(ctx context.Context, id string) (*UploadSession, error) {
	m.mu.Lock()
	cached, ok := m.cache[id]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	userMeta, err := m.client.HeadObject(ctx, sidecarKey(id))
	if err != nil {
		if isNotFoundObject(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	raw, ok := userMeta[userMetadataKey]
	if !ok {
		return nil, ErrFileNotFound
	}

	var upload Upload
	if err := json.Unmarshal([]byte(raw), &upload); err != nil {
		return nil, fmt.Errorf("s3store: decoding upload record for %q: %w", id, err)
	}

	var uploadID string
	for _, key := range uploadIDMetadataKeys {
		if v, ok := userMeta[key]; ok {
			uploadID = v
			break
		}
	}

	session := &UploadSession{
		File:       &upload,
		UploadID:   uploadID,
		TusVersion: userMeta[tusVersionMetadataKey],
	}

	m.mu.Lock()
	m.cache[id] = session
	m.mu.Unlock()
	return session, nil
}

// ClearCache drops id's in-memory entry, forcing the next GetMetadata call
// to re-fetch the sidecar. Called after a fatal transport error, since the
// cached state may no longer reflect what S3 has.
func (m *MetadataStore) ClearCache(id string) {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}
