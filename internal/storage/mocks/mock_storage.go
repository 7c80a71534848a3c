package mocks

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/stretchr/testify/mock"

	"docvault/internal/storage"
)

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key storage.Key, r io.Reader, opt storage.PutObjectOptions) (storage.ObjectInfo, error) {
	args := m.Called(ctx, key, r, opt)
	if f, ok := args.Get(0).(func(context.Context, storage.Key, io.Reader, storage.PutObjectOptions) storage.ObjectInfo); ok {
		return f(ctx, key, r, opt), args.Error(1)
	}
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) Get(ctx context.Context, key storage.Key) (io.ReadCloser, storage.ObjectInfo, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Get(1).(storage.ObjectInfo), args.Error(2)
}

func (m *MockObjectStore) Stat(ctx context.Context, key storage.Key) (storage.ObjectInfo, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) Delete(ctx context.Context, key storage.Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockObjectStore) Copy(ctx context.Context, src, dst storage.Key) (storage.ObjectInfo, error) {
	args := m.Called(ctx, src, dst)
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

// List yields the []storage.ObjectInfo given to Return, then the error if set.
func (m *MockObjectStore) List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[storage.ObjectInfo, error] {
	args := m.Called(ctx, bucket, prefix, startAfter)
	objs, _ := args.Get(0).([]storage.ObjectInfo)
	err := args.Error(1)
	return func(yield func(storage.ObjectInfo, error) bool) {
		for _, o := range objs {
			if !yield(o, nil) {
				return
			}
		}
		if err != nil {
			yield(storage.ObjectInfo{}, err)
		}
	}
}

func (m *MockObjectStore) PresignGet(ctx context.Context, key storage.Key, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}
