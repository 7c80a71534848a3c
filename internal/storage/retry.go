package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"docvault/internal/docerr"
	"docvault/internal/retry"
)

// Retrying wraps an ObjectStore and retries transient (StorageUnavailable) failures
// with exponential backoff. Other errors are returned on the first attempt.
type Retrying struct {
	next ObjectStore
	cfg  retry.Config
	log  zerolog.Logger
}

// WithRetry decorates next with bounded retries.
func WithRetry(next ObjectStore, cfg retry.Config, log zerolog.Logger) *Retrying {
	return &Retrying{next: next, cfg: cfg, log: log}
}

func transient(err error) bool {
	return errors.Is(err, docerr.ErrStorageUnavailable)
}

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.cfg, r.log, op, transient, fn)
}

// Put is retried only when the body can be rewound.
func (r *Retrying) Put(ctx context.Context, key Key, body io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return r.next.Put(ctx, key, body, opt)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return r.next.Put(ctx, key, body, opt)
	}
	var info ObjectInfo
	err = r.do(ctx, "put", func(ctx context.Context) error {
		if _, err := seeker.Seek(start, io.SeekStart); err != nil {
			return err
		}
		var err error
		info, err = r.next.Put(ctx, key, body, opt)
		return err
	})
	return info, err
}

func (r *Retrying) Get(ctx context.Context, key Key) (io.ReadCloser, ObjectInfo, error) {
	var rc io.ReadCloser
	var info ObjectInfo
	err := r.do(ctx, "get", func(ctx context.Context) error {
		var err error
		rc, info, err = r.next.Get(ctx, key)
		return err
	})
	return rc, info, err
}

func (r *Retrying) Stat(ctx context.Context, key Key) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, "stat", func(ctx context.Context) error {
		var err error
		info, err = r.next.Stat(ctx, key)
		return err
	})
	return info, err
}

func (r *Retrying) Delete(ctx context.Context, key Key) error {
	return r.do(ctx, "delete", func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

func (r *Retrying) Copy(ctx context.Context, src, dst Key) (ObjectInfo, error) {
	var info ObjectInfo
	err := r.do(ctx, "copy", func(ctx context.Context) error {
		var err error
		info, err = r.next.Copy(ctx, src, dst)
		return err
	})
	return info, err
}

// List resumes after the last yielded key when a page fails transiently.
func (r *Retrying) List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		cursor := startAfter
		stopped := false
		err := r.do(ctx, "list", func(ctx context.Context) error {
			for info, err := range r.next.List(ctx, bucket, prefix, cursor) {
				if err != nil {
					return err
				}
				if !yield(info, nil) {
					stopped = true
					return nil
				}
				cursor = info.Key.Name
			}
			return nil
		})
		if err != nil && !stopped {
			yield(ObjectInfo{}, err)
		}
	}
}

func (r *Retrying) PresignGet(ctx context.Context, key Key, expiry time.Duration) (string, error) {
	var u string
	err := r.do(ctx, "presign", func(ctx context.Context) error {
		var err error
		u, err = r.next.PresignGet(ctx, key, expiry)
		return err
	})
	return u, err
}
