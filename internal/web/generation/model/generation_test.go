package model

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TestReserveCredits verifies the requested image count is clamped into [1, 4].
func TestReserveCredits(t *testing.T) {
	require.Equal(t, 1, ReserveCredits(0))
	require.Equal(t, 1, ReserveCredits(-3))
	require.Equal(t, 1, ReserveCredits(1))
	require.Equal(t, 2, ReserveCredits(2))
	require.Equal(t, 4, ReserveCredits(4))
	require.Equal(t, 4, ReserveCredits(9))
}

// TestNewGeneration verifies a fresh record starts pending with credits reserved.
func TestNewGeneration(t *testing.T) {
	owner := primitive.NewObjectID()
	g := NewGeneration(owner, "a cat in space", "", RequestParameters{NumImages: 2})

	require.Equal(t, StatusPending, g.Status)
	require.Equal(t, owner, g.OwnerID)
	require.Equal(t, 2, g.CreditsReserved)
	require.Empty(t, g.OutputImageRefs)
	require.Nil(t, g.ProcessingStartedAt)
	require.Nil(t, g.CompletedAt)
	require.False(t, g.CreatedAt.IsZero())
}

// TestStatusPredicates verifies the state checks used by the handlers.
func TestStatusPredicates(t *testing.T) {
	g := &Generation{Status: StatusPending}
	require.False(t, g.IsTerminal())
	require.True(t, g.CanCancel())
	require.False(t, g.CanRetry())

	g.Status = StatusProcessing
	require.False(t, g.IsTerminal())
	require.True(t, g.CanCancel())

	g.Status = StatusCompleted
	require.True(t, g.IsTerminal())
	require.False(t, g.CanCancel())
	require.False(t, g.CanRetry())

	g.Status = StatusFailed
	require.True(t, g.IsTerminal())
	require.False(t, g.CanCancel())
	require.True(t, g.CanRetry())
}
