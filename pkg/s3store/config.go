package s3store

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// Config carries every option needed to construct a Client and drive the
// upload lifecycle. NewConfig returns one with every field set from its
// `default` struct tag.
type Config struct {
	// AccessKeyID and SecretAccessKey are static credentials. If both are
	// empty and UseSDKDefaults is true, the AWS SDK's default credential
	// chain (environment, shared config, instance profile) is used instead.
	AccessKeyID     string `default:""`
	SecretAccessKey string `default:""`
	SessionToken    string `default:""`
	UseSDKDefaults  bool   `default:"false"`

	// RoleARN, if set, is assumed via STS using the credentials above (or
	// the SDK default chain) as the source identity.
	RoleARN    string `default:""`
	ExternalID string `default:""`

	// Bucket is the required destination bucket.
	Bucket string `default:""`

	// Region is forwarded to the S3 client verbatim.
	Region string `default:"us-east-1"`

	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// providers such as MinIO or DigitalOcean Spaces.
	Endpoint string `default:""`

	// UsePathStyle forces path-style addressing, required by most
	// self-hosted S3-compatible stores.
	UsePathStyle bool `default:"false"`

	// ObjectPrefix is prepended to every object key, including the
	// sidecar's.
	ObjectPrefix string `default:""`

	// PartSize is the target size in bytes for each part the Splitter
	// produces. S3 imposes a 5 MiB floor on every non-final part; setting
	// PartSize below that floor means every non-final chunk is discarded by
	// the small-tail policy.
	PartSize int64 `default:"8388608"`

	// MinPartSize is the floor enforced by the small-tail policy (I3).
	// Only ever lowered in tests against a fake store with a smaller floor.
	MinPartSize int64 `default:"5242880"`

	// MaxConcurrentUploads bounds how many parts may be uploading to S3 at
	// the same time within a single Write call.
	MaxConcurrentUploads int `default:"10"`

	// TemporaryDirectory is where the Splitter creates part files. Empty
	// uses the OS default temp directory.
	TemporaryDirectory string `default:""`

	// RequestTimeout is carried in the configuration with its default, but
	// NewClient does not apply it: S3 requests are bounded only by their
	// context and the SDK's own settings.
	RequestTimeout time.Duration `default:"30s"`

	// MaxRetries is the number of attempts the SDK retryer makes per
	// request before giving up.
	MaxRetries int `default:"3"`

	// BackoffInitial and BackoffMax bound the exponential backoff applied
	// between retry attempts.
	BackoffInitial time.Duration `default:"200ms"`
	BackoffMax     time.Duration `default:"5s"`

	// EnableLogging wraps every S3 call in a debug-level logging decorator.
	EnableLogging bool `default:"false"`
}

// NewConfig returns a Config with every zero-valued field filled in from
// its `default` struct tag.
func NewConfig() Config {
	cfg := Config{}
	// Only fails if a default tag cannot be parsed into its field type,
	// which is a programmer error caught by config_test.go.
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("s3store: invalid default tags: %s", err))
	}
	return cfg
}

// Validate reports a configuration that cannot be used to construct a
// working Client. It intentionally does not reject PartSize values below
// MinPartSize: the spec allows it, documenting that every non-final chunk
// will then be discarded.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3store: Bucket must not be empty")
	}
	if c.PartSize <= 0 {
		return fmt.Errorf("s3store: PartSize must be positive")
	}
	if c.MinPartSize <= 0 {
		return fmt.Errorf("s3store: MinPartSize must be positive")
	}
	if c.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("s3store: MaxConcurrentUploads must be positive")
	}
	if !c.UseSDKDefaults && (c.AccessKeyID == "" || c.SecretAccessKey == "") {
		return fmt.Errorf("s3store: no credentials configured and UseSDKDefaults is false")
	}
	return nil
}
