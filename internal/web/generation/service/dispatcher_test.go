package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pixmuse/pixmuse-api/internal/library/falai"
	accountModel "github.com/pixmuse/pixmuse-api/internal/web/account/model"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/model"
	"github.com/pixmuse/pixmuse-api/library/log"
)

// TestDispatcherProcessesSubmission verifies a submitted record is driven to
// a terminal state by the worker pool.
func TestDispatcherProcessesSubmission(t *testing.T) {
	owner := &accountModel.Account{ID: primitive.NewObjectID(), Credits: 10}
	store := newFakeRecordStore()
	ledger := newFakeLedger(owner)
	provider := &fakeProvider{generate: func(ctx context.Context, req falai.GenerateRequest) ([]string, error) {
		return []string{"https://p.example.com/1.png"}, nil
	}}
	svc := newTestService(store, ledger, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(log.Logger.Named("test"), svc, 2, 8)
	d.Start(ctx)

	gen := createPending(t, svc, owner.ID, 1)
	require.NoError(t, d.Submit(ctx, gen.ID))

	require.Eventually(t, func() bool {
		got, err := svc.Get(ctx, gen.ID, owner.ID)
		return err == nil && got.Status == model.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

// TestDispatcherFullQueueFailsRecord verifies an over-full queue fails the
// record instead of blocking the submitter.
func TestDispatcherFullQueueFailsRecord(t *testing.T) {
	owner := &accountModel.Account{ID: primitive.NewObjectID(), Credits: 10}
	store := newFakeRecordStore()
	ledger := newFakeLedger(owner)
	svc := newTestService(store, ledger, &fakeProvider{}, nil)

	// workers never started, so the queue only drains by capacity
	d := NewDispatcher(log.Logger.Named("test"), svc, 1, 1)

	first := createPending(t, svc, owner.ID, 1)
	second := createPending(t, svc, owner.ID, 1)

	require.NoError(t, d.Submit(context.Background(), first.ID))
	require.Error(t, d.Submit(context.Background(), second.ID))

	got, err := svc.Get(context.Background(), second.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Contains(t, got.FailureReason, "busy")
}
