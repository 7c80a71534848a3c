package docerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"docvault/internal/model"
)

func TestError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("upload: %w", Wrap(ErrStorageUnavailable, "put", cause))

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, Retryable(err))
}

func TestIllegalTransition_NamesEdge(t *testing.T) {
	rec := model.DocumentRecord{
		ID:         "v-1",
		EntityType: model.EntityVivienda,
		EntityID:   "viv-9",
		Slot:       "cedula",
		Version:    2,
		State:      model.StateActive,
	}
	err := IllegalTransition(rec, "restore", model.StateActive, "lineage already has an active version")

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.False(t, Retryable(err))
	assert.Equal(t, "active -restore-> active", err.Transition)
	assert.Contains(t, err.Error(), "lineage=vivienda/viv-9/cedula")
	assert.Contains(t, err.Error(), "version=2")

	got, ok := As(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "v-1", got.VersionID)
}

func TestConflict(t *testing.T) {
	lin := model.Lineage{EntityType: model.EntityCliente, EntityID: "c-1", Slot: "cedula"}
	err := Conflict("replace", lin, "target was superseded")

	assert.ErrorIs(t, err, ErrLineageConflict)
	assert.True(t, Retryable(err))
	assert.Equal(t, "replace: lineage conflict lineage=cliente/c-1/cedula: target was superseded", err.Error())
}
