package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/benmeehan/display-agent/pkg/transfer"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorageClient opens firmware images kept in an S3-compatible bucket.
type ObjectStorageClient interface {
	Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error
	Open(ctx context.Context, rawURL string) (transfer.Stream, error)
}

// ObjectStorage holds the object storage client instance.
type ObjectStorage struct {
	Conn *minio.Client
}

// NewObjectStorage creates an unconnected ObjectStorage.
func NewObjectStorage() *ObjectStorage {
	return &ObjectStorage{}
}

// Connect establishes the object storage connection using client
func (o *ObjectStorage) Connect(endpoint string, accessKeyID string, secretAccessKey string, useSSL bool) error {
	var err error
	o.Conn, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}
	return nil
}

// ParseObjectURL splits s3://bucket/path/to/object.
func ParseObjectURL(rawURL string) (bucket, object string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", rawURL)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("s3 url needs bucket and object: %s", rawURL)
	}
	return bucket, object, nil
}

// Open streams the object named by an s3:// URL.
func (o *ObjectStorage) Open(ctx context.Context, rawURL string) (transfer.Stream, error) {
	if o.Conn == nil {
		return nil, fmt.Errorf("object storage not connected")
	}
	bucket, object, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}

	obj, err := o.Conn.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", bucket, object, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to stat %s/%s: %w", bucket, object, err)
	}

	return transfer.NewReaderStream(obj, info.Size), nil
}
