package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/model"
	"docvault/internal/repository"
)

func TestStore_RecordAndHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, model.AuditEntry{ID: "1", VersionID: "a", Action: model.ActionUpload}))
	require.NoError(t, s.Record(ctx, model.AuditEntry{ID: "2", VersionID: "b", Action: model.ActionUpload}))
	require.NoError(t, s.Record(ctx, model.AuditEntry{ID: "3", VersionID: "a", Action: model.ActionReplace}))

	hist, err := s.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, model.ActionUpload, hist[0].Action)
	assert.Less(t, hist[0].Seq, hist[1].Seq)
	assert.Len(t, s.All(), 3)
}

func TestStore_DefersUntilUnitCommits(t *testing.T) {
	s := New()
	unit := &repository.Unit{}
	ctx := repository.WithUnit(context.Background(), unit)

	require.NoError(t, s.Record(ctx, model.AuditEntry{ID: "1", VersionID: "a"}))
	assert.Empty(t, s.All())

	unit.Commit()
	assert.Len(t, s.All(), 1)
}

func TestStore_FailWith(t *testing.T) {
	s := New()
	boom := errors.New("audit down")
	s.FailWith(boom)

	assert.ErrorIs(t, s.Record(context.Background(), model.AuditEntry{ID: "1"}), boom)

	s.FailWith(nil)
	assert.NoError(t, s.Record(context.Background(), model.AuditEntry{ID: "2"}))
	assert.Len(t, s.All(), 1)
}
