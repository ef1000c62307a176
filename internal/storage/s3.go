package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rowjay/docmigrate/internal/config"
)

// S3 keeps artifacts in a bucket of any S3-compatible service.
type S3 struct {
	Client *minio.Client
	Bucket string
}

func NewS3(cfg config.S3Store) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecureSkip {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	lookup := minio.BucketLookupDNS
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		Transport:    transport,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3{Client: client, Bucket: cfg.Bucket}, nil
}

func (s *S3) Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	_, err := s.Client.PutObject(ctx, s.Bucket, key, reader, size, minio.PutObjectOptions{
		UserMetadata: metadata,
		ContentType:  "application/json",
	})
	return err
}

// Create checks for the key before uploading. Unlike Local this is not
// atomic; dmig holds the target lock around every writer of a given key.
func (s *S3) Create(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}
	return s.Put(ctx, key, reader, size, metadata)
}

// Get stats the object first so a missing key surfaces as ErrNotFound
// instead of failing on the first Read.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	return s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: st.Size, Modified: st.LastModified, ETag: st.ETag, Metadata: st.UserMetadata}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects := []ObjectInfo{}
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified, ETag: obj.ETag})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.Client.RemoveObject(ctx, s.Bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func isNoSuchKey(err error) bool {
	return err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey"
}
