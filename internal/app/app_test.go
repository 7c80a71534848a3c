package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"docvault/internal/logging"
	"docvault/internal/service"
	serviceMocks "docvault/internal/service/mocks"
)

func TestRunPurge(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	var calls atomic.Int32
	mockSvc.On("PurgeDeleted", mock.Anything, PurgeActor).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(&service.PurgeReport{Scanned: 1, Purged: 1}, nil).Maybe()

	a := &App{Log: logging.Nop(), Service: mockSvc}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunPurge(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPurge did not stop after cancel")
	}
}

func TestRunPurge_FailuresDoNotStopTheLoop(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	var calls atomic.Int32
	mockSvc.On("PurgeDeleted", mock.Anything, PurgeActor).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(nil, errors.New("db down")).Maybe()

	a := &App{Log: logging.Nop(), Service: mockSvc}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RunPurge(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRunPurge_DisabledInterval(t *testing.T) {
	a := &App{Log: logging.Nop()}
	done := make(chan struct{})
	go func() {
		a.RunPurge(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPurge with a zero interval should return immediately")
	}
}

func TestClose_Empty(t *testing.T) {
	assert.NoError(t, (&App{}).Close())
}
