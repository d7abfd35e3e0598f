package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// draftPrefix is the key prefix drafts are staged under.
const draftPrefix = "drafts"

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStoreConfig selects credentials and endpoint for the object store.
type ObjectStoreConfig struct {
	Region  string
	Profile string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
}

// ObjectStore uploads artifacts to S3-compatible buckets. Destinations are
// "s3://bucket/prefix" or "bucket/prefix".
type ObjectStore struct {
	client S3API
}

var _ Storage = (*ObjectStore)(nil)

// NewObjectStore loads AWS configuration the standard way (environment,
// shared config, instance role) and creates an S3 client.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &ObjectStore{client: client}, nil
}

// NewObjectStoreWithClient wraps an existing client.
func NewObjectStoreWithClient(client S3API) *ObjectStore {
	return &ObjectStore{client: client}
}

// Put implements Storage. Keys are <prefix>/[drafts/]<release>/<file>.
func (o *ObjectStore) Put(ctx context.Context, up Upload) (string, error) {
	bucket, prefix, err := parseBucket(up.Target.Destination)
	if err != nil {
		return "", err
	}

	parts := []string{prefix}
	if up.Draft {
		parts = append(parts, draftPrefix)
	}
	parts = append(parts, up.Release, filepath.Base(up.Artifact.Path))
	key := strings.TrimPrefix(path.Join(parts...), "/")

	f, err := os.Open(up.Artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", up.Artifact.Name, err)
	}
	defer f.Close()

	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
		Metadata: map[string]string{
			"tierci-artifact": up.Artifact.Name,
			"tierci-release":  up.Release,
			"tierci-draft":    fmt.Sprintf("%t", up.Draft),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func parseBucket(dest string) (bucket, prefix string, err error) {
	dest = strings.TrimPrefix(dest, "s3://")
	bucket, prefix, _ = strings.Cut(dest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("object store destination %q has no bucket", dest)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}
