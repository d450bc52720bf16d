// Command s3tus-upload drives the resumable-upload engine directly against
// a local file, without a tus HTTP front end. It is meant as a worked
// example of wiring pkg/s3store, not as a production upload client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/resumable/s3tus/pkg/s3store"
	"github.com/rs/zerolog"
)

var Flags struct {
	Bucket        string
	Region        string
	Endpoint      string
	UsePathStyle  bool
	AccessKey     string
	SecretKey     string
	ObjectPrefix  string
	PartSize      int64
	SourceFile    string
	VerboseOutput bool
}

func parseFlags() {
	flag.StringVar(&Flags.Bucket, "bucket", "", "S3 bucket to upload into")
	flag.StringVar(&Flags.Region, "region", "us-east-1", "AWS region")
	flag.StringVar(&Flags.Endpoint, "endpoint", "", "Custom S3-compatible endpoint, e.g. for MinIO")
	flag.BoolVar(&Flags.UsePathStyle, "path-style", false, "Use path-style addressing, required by most self-hosted S3-compatible stores")
	flag.StringVar(&Flags.AccessKey, "access-key", "", "Static access key id")
	flag.StringVar(&Flags.SecretKey, "secret-key", "", "Static secret access key")
	flag.StringVar(&Flags.ObjectPrefix, "object-prefix", "", "Prefix prepended to every object key")
	flag.Int64Var(&Flags.PartSize, "part-size", 8*1024*1024, "Target size in bytes for each uploaded part")
	flag.StringVar(&Flags.SourceFile, "file", "", "Local file to upload")
	flag.BoolVar(&Flags.VerboseOutput, "verbose", false, "Log every S3 API call")
	flag.Parse()
}

func main() {
	parseFlags()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if Flags.Bucket == "" || Flags.SourceFile == "" {
		log.Fatal().Msg("-bucket and -file are required")
	}

	cfg := s3store.NewConfig()
	cfg.Bucket = Flags.Bucket
	cfg.Region = Flags.Region
	cfg.Endpoint = Flags.Endpoint
	cfg.UsePathStyle = Flags.UsePathStyle
	cfg.AccessKeyID = Flags.AccessKey
	cfg.SecretAccessKey = Flags.SecretKey
	cfg.ObjectPrefix = Flags.ObjectPrefix
	cfg.PartSize = Flags.PartSize
	cfg.EnableLogging = Flags.VerboseOutput
	if cfg.AccessKeyID == "" && cfg.SecretAccessKey == "" {
		cfg.UseSDKDefaults = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	client, err := s3store.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to construct S3 client")
	}

	if err := client.BucketExists(ctx); err != nil {
		log.Fatal().Err(err).Msg("bucket is not reachable")
	}

	file, err := os.Open(Flags.SourceFile)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open source file")
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to stat source file")
	}

	store := s3store.NewStore(client, cfg, log)

	upload, err := store.Create(ctx, stat.Size(), false, "", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create upload")
	}

	written, completed, err := store.Write(ctx, upload.ID, 0, file)
	if err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}

	fmt.Printf("upload %s: wrote %d of %d bytes, completed=%v\n", upload.ID, written, stat.Size(), completed)
}
