package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docvault/internal/config"
	"docvault/internal/docerr"
)

// MinIO implements ObjectStore using an S3-compatible backend (MinIO, AWS S3, etc.).
// It is safe for concurrent use by multiple goroutines.
type MinIO struct {
	client   *minio.Client
	pageSize int
}

// NewMinIO creates a new S3-compatible storage client backed by MinIO.
// It validates connectivity and ensures every configured bucket exists (creates it if missing).
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}
	if len(cfg.Buckets) == 0 {
		return nil, fmt.Errorf("minio buckets are required")
	}

	base, err := minio.DefaultTransport(cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("create minio transport: %w", err)
	}
	// S3 calls show up as child spans of the request that issued them.
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: otelhttp.NewTransport(base),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bucket := range cfg.Buckets {
		exists, err := cli.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s existence: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			// Another replica may have created it between the check and the create.
			if code := minio.ToErrorResponse(err).Code; code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}

	return &MinIO{client: cli, pageSize: 1000}, nil
}

// Ping checks that the backend answers; used by the readiness probe.
func (m *MinIO) Ping(ctx context.Context, bucket string) error {
	_, err := m.client.BucketExists(ctx, bucket)
	return classify("ping", Key{Bucket: bucket}, err)
}

// Put uploads an object using streaming I/O only (no local disk).
func (m *MinIO) Put(ctx context.Context, key Key, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opt.ContentType,
		UserMetadata: opt.Metadata,
	}
	info, err := m.client.PutObject(ctx, key.Bucket, key.Name, r, opt.Size, putOpts)
	if err != nil {
		return ObjectInfo{}, classify("put", key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  opt.ContentType,
		LastModified: time.Now(), // MinIO PutObjectInfo doesn't return LastModified
		Metadata:     opt.Metadata,
	}, nil
}

// Get downloads an object content as a ReadCloser along with basic info.
func (m *MinIO) Get(ctx context.Context, key Key) (io.ReadCloser, ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, key.Bucket, key.Name, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, classify("get", key, err)
	}
	// GetObject is lazy; Stat surfaces NoSuchKey without reading content into memory.
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, ObjectInfo{}, classify("get", key, err)
	}
	return obj, fromMinio(key.Bucket, st), nil
}

// Stat returns object info without reading content.
func (m *MinIO) Stat(ctx context.Context, key Key) (ObjectInfo, error) {
	st, err := m.client.StatObject(ctx, key.Bucket, key.Name, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, classify("stat", key, err)
	}
	return fromMinio(key.Bucket, st), nil
}

// Delete removes an object by key. S3 reports success for missing keys, so the
// object is stat'ed first to report NotFound.
func (m *MinIO) Delete(ctx context.Context, key Key) error {
	if _, err := m.Stat(ctx, key); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, key.Bucket, key.Name, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete", key, err)
	}
	return nil
}

// Copy performs a server-side copy.
func (m *MinIO) Copy(ctx context.Context, src, dst Key) (ObjectInfo, error) {
	info, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dst.Bucket, Object: dst.Name},
		minio.CopySrcOptions{Bucket: src.Bucket, Object: src.Name},
	)
	if err != nil {
		return ObjectInfo{}, classify("copy", src, err)
	}
	return ObjectInfo{
		Key:          dst,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// List streams the bucket listing page by page. Leaving the loop early cancels
// the underlying listing goroutine.
func (m *MinIO) List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		objects := m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:     prefix,
			StartAfter: startAfter,
			Recursive:  true,
			MaxKeys:    m.pageSize,
		})
		for obj := range objects {
			if obj.Err != nil {
				yield(ObjectInfo{}, classify("list", Key{Bucket: bucket, Name: prefix}, obj.Err))
				return
			}
			if !yield(fromMinio(bucket, obj), nil) {
				return
			}
		}
	}
}

// PresignGet generates a pre-signed URL for GET with the specified expiry.
func (m *MinIO) PresignGet(ctx context.Context, key Key, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, key.Bucket, key.Name, expiry, url.Values{})
	if err != nil {
		return "", classify("presign", key, err)
	}
	return u.String(), nil
}

func fromMinio(bucket string, st minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          Key{Bucket: bucket, Name: st.Key},
		Size:         st.Size,
		ETag:         st.ETag,
		ContentType:  st.ContentType,
		LastModified: st.LastModified,
		Metadata:     st.UserMetadata,
	}
}

// classify maps S3 failures onto the docerr kinds the core understands.
func classify(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return docerr.Wrap(docerr.ErrNotFound, op+" "+key.String(), err)
	case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return docerr.Wrap(docerr.ErrStorageUnavailable, op+" "+key.String(), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return docerr.Wrap(docerr.ErrNotFound, op+" "+key.String(), err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return docerr.Wrap(docerr.ErrStorageUnavailable, op+" "+key.String(), err)
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return docerr.Wrap(docerr.ErrStorageUnavailable, op+" "+key.String(), err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
