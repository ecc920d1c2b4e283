package sync

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Object metadata set on every upload.
const (
	digestMetadataKey       = "ctxreg-digest"
	environmentsMetadataKey = "ctxreg-environments"
	clustersMetadataKey     = "ctxreg-clusters"
)

// s3API is the subset of *s3.Client used by S3Destination.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination uploads each snapshot over one object key, with the digest
// and record counts stored as object metadata.
type S3Destination struct {
	client s3API
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 destination needs a bucket and a key")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3Destination(s3.NewFromConfig(cfg, s3opts...), bucket, key), nil
}

func newS3Destination(client s3API, bucket, key string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, key: key}
}

func (d *S3Destination) String() string {
	return "s3://" + d.bucket + "/" + d.key
}

// Write uploads the snapshot.
func (d *S3Destination) Write(ctx context.Context, snap *Snapshot) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(snap.Data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			digestMetadataKey:       snap.Digest,
			environmentsMetadataKey: strconv.Itoa(snap.Counts[model.KindEnvironment]),
			clustersMetadataKey:     strconv.Itoa(snap.Counts[model.KindCluster]),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", d, err)
	}
	return nil
}
