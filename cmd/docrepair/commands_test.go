package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/service"
	serviceMocks "docvault/internal/service/mocks"
)

func fakeOpener(svc service.DocumentService, closed *bool) opener {
	return func(context.Context) (service.DocumentService, func() error, error) {
		return svc, func() error { *closed = true; return nil }, nil
	}
}

func run(t *testing.T, open opener, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCmd(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	scope := repository.Scope{EntityType: model.EntityVivienda, EntityID: "viv-1"}
	plan := &reconcile.Plan{ID: "plan-1", Scope: scope, Actions: []reconcile.Action{{ID: "a1", Kind: reconcile.RelinkRecord}}}
	mockSvc.On("Reconcile", mock.Anything, scope).Return(plan, nil)

	var closed bool
	out, err := run(t, fakeOpener(mockSvc, &closed), "", "plan", "--entity-type", "vivienda", "--entity-id", "viv-1")
	require.NoError(t, err)
	assert.True(t, closed)

	var got reconcile.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "plan-1", got.ID)
	require.Len(t, got.Actions, 1)
	mockSvc.AssertExpectations(t)
}

func TestPlanCmd_AmbiguousPlanIsPrintedAndFails(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	plan := &reconcile.Plan{ID: "plan-2"}
	mockSvc.On("Reconcile", mock.Anything, repository.Scope{}).
		Return(plan, docerr.New(docerr.ErrConsistencyViolation, "reconcile", "1 ambiguous key"))

	var closed bool
	out, err := run(t, fakeOpener(mockSvc, &closed), "", "plan")
	require.Error(t, err)
	assert.ErrorIs(t, err, docerr.ErrConsistencyViolation)
	assert.Contains(t, out, `"plan-2"`)
}

func TestPlanCmd_InvalidEntityType(t *testing.T) {
	var closed bool
	_, err := run(t, fakeOpener(new(serviceMocks.MockDocumentService), &closed), "", "plan", "--entity-type", "casa")
	require.Error(t, err)
	assert.False(t, closed)
}

func TestApplyCmd(t *testing.T) {
	plan := reconcile.Plan{ID: "plan-1", Actions: []reconcile.Action{
		{ID: "a1", Kind: reconcile.RelinkRecord, VersionID: "v1"},
		{ID: "a2", Kind: reconcile.DeleteOrphanObject, ObjectKey: "b/k"},
	}}
	raw, err := json.Marshal(plan)
	require.NoError(t, err)

	t.Run("from stdin", func(t *testing.T) {
		mockSvc := new(serviceMocks.MockDocumentService)
		mockSvc.On("ApplyRepair", mock.Anything, plan.Actions, "ops").
			Return([]service.RepairOutcome{{ActionResult: reconcile.ActionResult{ActionID: "a1"}}}, nil)

		var closed bool
		out, err := run(t, fakeOpener(mockSvc, &closed), string(raw), "apply", "--actor", "ops")
		require.NoError(t, err)
		assert.Contains(t, out, `"action_id": "a1"`)
		mockSvc.AssertExpectations(t)
	})

	t.Run("from file with action filter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.json")
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		mockSvc := new(serviceMocks.MockDocumentService)
		mockSvc.On("ApplyRepair", mock.Anything, plan.Actions[1:], "ops").
			Return([]service.RepairOutcome{}, nil)

		var closed bool
		_, err := run(t, fakeOpener(mockSvc, &closed), "", "apply", "--plan", path, "--actor", "ops", "--action", "a2")
		require.NoError(t, err)
		mockSvc.AssertExpectations(t)
	})

	t.Run("actor required", func(t *testing.T) {
		var closed bool
		_, err := run(t, fakeOpener(new(serviceMocks.MockDocumentService), &closed), string(raw), "apply")
		require.EqualError(t, err, "--actor is required")
	})

	t.Run("no matching actions", func(t *testing.T) {
		var closed bool
		_, err := run(t, fakeOpener(new(serviceMocks.MockDocumentService), &closed), string(raw), "apply", "--actor", "ops", "--action", "zzz")
		require.Error(t, err)
		assert.False(t, closed)
	})

	t.Run("bad json", func(t *testing.T) {
		var closed bool
		_, err := run(t, fakeOpener(new(serviceMocks.MockDocumentService), &closed), "{", "apply", "--actor", "ops")
		require.ErrorContains(t, err, "decode plan")
	})
}

func TestPurgeCmd(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	mockSvc.On("PurgeDeleted", mock.Anything, "system:purge").
		Return(&service.PurgeReport{Scanned: 3, Purged: 2, Missing: 1}, nil)

	var closed bool
	out, err := run(t, fakeOpener(mockSvc, &closed), "", "purge")
	require.NoError(t, err)

	var report service.PurgeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Purged)
	assert.True(t, closed)
}

func TestOpenerFailure(t *testing.T) {
	failing := func(context.Context) (service.DocumentService, func() error, error) {
		return nil, nil, errors.New("database unreachable")
	}
	_, err := run(t, failing, "", "purge")
	require.EqualError(t, err, "database unreachable")
}
