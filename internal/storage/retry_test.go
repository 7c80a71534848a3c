package storage

import (
	"bytes"
	"context"
	"io"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/docerr"
	"docvault/internal/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func unavailable() error {
	return docerr.New(docerr.ErrStorageUnavailable, "test", "injected")
}

func TestRetrying_PutRewindsSeekableBody(t *testing.T) {
	mem := NewMemory("b")
	mem.FailNext("put", 2, unavailable())
	s := WithRetry(mem, fastRetry, zerolog.Nop())
	key := Key{Bucket: "b", Name: "e/x.pdf"}

	_, err := s.Put(context.Background(), key, bytes.NewReader([]byte("content")), PutObjectOptions{Size: 7})
	require.NoError(t, err)

	rc, _, err := mem.Get(context.Background(), key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "content", string(data))
}

func TestRetrying_PutDoesNotRetryStreamingBody(t *testing.T) {
	mem := NewMemory("b")
	mem.FailNext("put", 1, unavailable())
	s := WithRetry(mem, fastRetry, zerolog.Nop())

	body := io.MultiReader(strings.NewReader("con"), strings.NewReader("tent"))
	_, err := s.Put(context.Background(), Key{Bucket: "b", Name: "e/x.pdf"}, body, PutObjectOptions{Size: 7})
	assert.ErrorIs(t, err, docerr.ErrStorageUnavailable)
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	mem := NewMemory("b")
	s := WithRetry(mem, fastRetry, zerolog.Nop())

	err := s.Delete(context.Background(), Key{Bucket: "b", Name: "missing"})
	assert.ErrorIs(t, err, docerr.ErrNotFound)
}

func TestRetrying_StatGivesUp(t *testing.T) {
	mem := NewMemory("b")
	mem.FailNext("stat", 3, unavailable())
	s := WithRetry(mem, fastRetry, zerolog.Nop())

	_, err := s.Stat(context.Background(), Key{Bucket: "b", Name: "x"})
	assert.ErrorIs(t, err, docerr.ErrStorageUnavailable)
}

// flakyList fails once after yielding failAfter objects.
type flakyList struct {
	*Memory
	failAfter int
	failed    bool
}

func (f *flakyList) List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		n := 0
		for info, err := range f.Memory.List(ctx, bucket, prefix, startAfter) {
			if !f.failed && n == f.failAfter {
				f.failed = true
				yield(ObjectInfo{}, unavailable())
				return
			}
			if !yield(info, err) {
				return
			}
			n++
		}
	}
}

func TestRetrying_ListResumesAfterLastKey(t *testing.T) {
	mem := NewMemory("b")
	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := mem.Put(context.Background(), Key{Bucket: "b", Name: name}, strings.NewReader("x"), PutObjectOptions{Size: 1})
		require.NoError(t, err)
	}
	s := WithRetry(&flakyList{Memory: mem, failAfter: 2}, fastRetry, zerolog.Nop())

	var names []string
	for info, err := range s.List(context.Background(), "b", "", "") {
		require.NoError(t, err)
		names = append(names, info.Key.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}
