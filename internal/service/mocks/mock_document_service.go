package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"docvault/internal/model"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

var _ service.DocumentService = (*MockDocumentService)(nil)

func (m *MockDocumentService) Upload(ctx context.Context, in service.UploadInput) (*model.DocumentRecord, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentService) Replace(ctx context.Context, versionID string, f service.File, actor string) (*service.ReplaceResult, error) {
	args := m.Called(ctx, versionID, f, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReplaceResult), args.Error(1)
}

func (m *MockDocumentService) MarkState(ctx context.Context, in service.MarkStateInput) (*service.TransitionResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TransitionResult), args.Error(1)
}

func (m *MockDocumentService) Restore(ctx context.Context, versionID, actor string) (*service.TransitionResult, error) {
	args := m.Called(ctx, versionID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TransitionResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, versionID string) (*model.DocumentRecord, error) {
	args := m.Called(ctx, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentService) ListVersions(ctx context.Context, lineage model.Lineage) ([]model.DocumentRecord, error) {
	args := m.Called(ctx, lineage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentService) GetActive(ctx context.Context, lineage model.Lineage) (*model.DocumentRecord, error) {
	args := m.Called(ctx, lineage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockDocumentService) History(ctx context.Context, versionID string) ([]model.AuditEntry, error) {
	args := m.Called(ctx, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AuditEntry), args.Error(1)
}

func (m *MockDocumentService) Download(ctx context.Context, versionID string) (io.ReadCloser, *model.DocumentRecord, error) {
	args := m.Called(ctx, versionID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*model.DocumentRecord), args.Error(2)
}

func (m *MockDocumentService) DownloadURL(ctx context.Context, versionID string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, versionID, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentService) Reconcile(ctx context.Context, scope repository.Scope) (*reconcile.Plan, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Plan), args.Error(1)
}

func (m *MockDocumentService) ApplyRepair(ctx context.Context, actions []reconcile.Action, actor string) ([]service.RepairOutcome, error) {
	args := m.Called(ctx, actions, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.RepairOutcome), args.Error(1)
}

func (m *MockDocumentService) PurgeDeleted(ctx context.Context, actor string) (*service.PurgeReport, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PurgeReport), args.Error(1)
}

func (m *MockDocumentService) HardDelete(ctx context.Context, versionID, actor string) error {
	args := m.Called(ctx, versionID, actor)
	return args.Error(0)
}
