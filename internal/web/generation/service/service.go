// Package service drives generation records through their lifecycle.
package service

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/pixmuse/pixmuse-api/internal/library/falai"
	accountModel "github.com/pixmuse/pixmuse-api/internal/web/account/model"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/dao"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/model"
)

// CancelReason the failure reason recorded for user cancellations.
const CancelReason = "cancelled by user"

var (
	// ErrNotFound record missing or not visible to the caller
	ErrNotFound = errors.New("generation not found")
	// ErrNotCancelable record already reached a terminal state
	ErrNotCancelable = errors.New("generation can no longer be cancelled")
	// ErrNotRetryable only failed records can be retried
	ErrNotRetryable = errors.New("only failed generations can be retried")
)

// recordStore is the persistence surface the orchestrator drives.
// *dao.Generation satisfies it.
type recordStore interface {
	Create(ctx context.Context, gen *model.Generation) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*model.Generation, error)
	ListByOwner(ctx context.Context, ownerID primitive.ObjectID, page, size int) ([]*model.Generation, error)
	ClaimPending(ctx context.Context, id primitive.ObjectID) (*model.Generation, error)
	Complete(ctx context.Context, id primitive.ObjectID, outputRefs []string, startedAt time.Time) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, reason string, startedAt *time.Time) error
	ResetForRetry(ctx context.Context, id primitive.ObjectID) error
}

// ledger is the account surface the orchestrator needs: premium lookup and
// the post-completion deduction.
type ledger interface {
	GetAccount(ctx context.Context, id primitive.ObjectID) (*accountModel.Account, error)
	Deduct(ctx context.Context, id primitive.ObjectID, amount int) error
}

// provider produces remote image references for one request.
// *falai.Client satisfies it.
type provider interface {
	Generate(ctx context.Context, req falai.GenerateRequest) ([]string, error)
}

// materializer persists one remote reference into the owned store.
// *store.Artifacts satisfies it.
type materializer interface {
	Materialize(ctx context.Context, remoteRef string) (string, error)
}

// Generation service type
type Generation struct {
	logger    glog.Logger
	dao       recordStore
	accounts  ledger
	provider  provider
	artifacts materializer
}

// New create new service
func New(logger glog.Logger, dao recordStore, accounts ledger,
	provider provider, artifacts materializer) *Generation {
	return &Generation{
		logger:    logger,
		dao:       dao,
		accounts:  accounts,
		provider:  provider,
		artifacts: artifacts,
	}
}

// Create inserts a new pending record for the owner. Processing is started
// separately by submitting the record id to the dispatcher.
func (s *Generation) Create(ctx context.Context, ownerID primitive.ObjectID,
	prompt, inputImageRef string, params model.RequestParameters) (*model.Generation, error) {
	gen := model.NewGeneration(ownerID, prompt, inputImageRef, params)
	if err := s.dao.Create(ctx, gen); err != nil {
		return nil, errors.Wrap(err, "create generation")
	}

	return gen, nil
}

// Get loads one record, scoped to its owner.
func (s *Generation) Get(ctx context.Context,
	id, ownerID primitive.ObjectID) (*model.Generation, error) {
	gen, err := s.dao.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errors.WithStack(ErrNotFound)
		}

		return nil, errors.WithStack(err)
	}
	// hide other owners' records rather than revealing their existence
	if gen.OwnerID != ownerID {
		return nil, errors.WithStack(ErrNotFound)
	}

	return gen, nil
}

// List returns the owner's records, newest first.
func (s *Generation) List(ctx context.Context,
	ownerID primitive.ObjectID, page, size int) ([]*model.Generation, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	if page < 0 {
		page = 0
	}

	return s.dao.ListByOwner(ctx, ownerID, page, size)
}

// Cancel moves a pending or processing record to failed with CancelReason.
//
// An in-flight provider call is not interrupted; its late result is discarded
// by the conditional completed write, which no longer matches.
func (s *Generation) Cancel(ctx context.Context, id, ownerID primitive.ObjectID) error {
	gen, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return errors.WithStack(err)
	}
	if !gen.CanCancel() {
		return errors.WithStack(ErrNotCancelable)
	}

	if err := s.dao.MarkFailed(ctx, id, CancelReason, gen.ProcessingStartedAt); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			// the record reached a terminal state between the read and the write
			return errors.WithStack(ErrNotCancelable)
		}

		return errors.WithStack(err)
	}

	s.logger.Info("generation cancelled", zap.String("id", id.Hex()))
	return nil
}

// Retry resets a failed record back to pending, preserving its id, owner,
// parameter snapshot and reserved credits. Credits were never pre-deducted,
// so no refund happens here.
func (s *Generation) Retry(ctx context.Context, id, ownerID primitive.ObjectID) error {
	gen, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return errors.WithStack(err)
	}
	if !gen.CanRetry() {
		return errors.WithStack(ErrNotRetryable)
	}

	if err := s.dao.ResetForRetry(ctx, id); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return errors.WithStack(ErrNotRetryable)
		}

		return errors.WithStack(err)
	}

	return nil
}

// Process drives one record from pending to a terminal state.
//
// The claim is a single conditional write, so a duplicate invocation (or one
// racing a cancel) observes no pending record and returns silently. Every
// failure past the claim is converted into a failed record; nothing
// propagates to the submitter.
func (s *Generation) Process(ctx context.Context, id primitive.ObjectID) {
	logger := s.logger.Named("process").With(zap.String("id", id.Hex()))

	gen, err := s.dao.ClaimPending(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			logger.Debug("skip: record missing or not pending")
			return
		}

		logger.Error("claim generation", zap.Error(err))
		return
	}

	startedAt := time.Now()
	if gen.ProcessingStartedAt != nil {
		startedAt = *gen.ProcessingStartedAt
	}

	refs, err := s.provider.Generate(ctx, falai.GenerateRequest{
		Prompt:            gen.Prompt,
		ImageRef:          gen.InputImageRef,
		Width:             gen.Params.Width,
		Height:            gen.Params.Height,
		GuidanceScale:     gen.Params.GuidanceScale,
		NumInferenceSteps: gen.Params.NumInferenceSteps,
		Seed:              gen.Params.Seed,
		NegativePrompt:    gen.Params.NegativePrompt,
		NumImages:         gen.Params.NumImages,
	})
	if err != nil {
		logger.Warn("provider failed", zap.Error(err))
		s.fail(ctx, logger, id, err.Error(), &startedAt)
		return
	}
	if len(refs) == 0 {
		s.fail(ctx, logger, id, "no images produced", &startedAt)
		return
	}

	outputs := s.materializeAll(ctx, logger, refs)
	if len(outputs) == 0 {
		// every single output was dropped; completing here would violate
		// the completed-implies-outputs invariant
		s.fail(ctx, logger, id, "no images produced", &startedAt)
		return
	}

	if err := s.dao.Complete(ctx, id, outputs, startedAt); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			logger.Info("discard late result, record no longer processing")
			return
		}

		logger.Error("complete generation", zap.Error(err))
		return
	}

	s.settleCredits(ctx, logger, gen)
}

// materializeAll stores each remote reference, dropping the ones that fail.
// Partial delivery is preferred over failing the whole record.
func (s *Generation) materializeAll(ctx context.Context,
	logger glog.Logger, refs []string) []string {
	results := make([]string, len(refs))

	var pool errgroup.Group
	for i, ref := range refs {
		pool.Go(func() error {
			stored, err := s.artifacts.Materialize(ctx, ref)
			if err != nil {
				logger.Warn("drop artifact",
					zap.Error(err), zap.String("remote_ref", ref))
				return nil
			}

			results[i] = stored
			return nil
		})
	}
	_ = pool.Wait()

	outputs := make([]string, 0, len(results))
	for _, stored := range results {
		if stored != "" {
			outputs = append(outputs, stored)
		}
	}

	return outputs
}

// settleCredits deducts the reserved credits once, after completion, unless
// the account is premium. A deduction failure never rolls the record back.
func (s *Generation) settleCredits(ctx context.Context,
	logger glog.Logger, gen *model.Generation) {
	acc, err := s.accounts.GetAccount(ctx, gen.OwnerID)
	if err != nil {
		logger.Error("load account for deduction",
			zap.Error(err), zap.String("owner_id", gen.OwnerID.Hex()))
		return
	}
	if acc.Unlimited() {
		return
	}

	if err := s.accounts.Deduct(ctx, gen.OwnerID, gen.CreditsReserved); err != nil {
		// the generation result stands regardless of the ledger outcome
		logger.Error("deduct credits",
			zap.Error(err),
			zap.String("owner_id", gen.OwnerID.Hex()),
			zap.Int("credits", gen.CreditsReserved))
	}
}

func (s *Generation) fail(ctx context.Context, logger glog.Logger,
	id primitive.ObjectID, reason string, startedAt *time.Time) {
	if err := s.dao.MarkFailed(ctx, id, reason, startedAt); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			logger.Debug("record already terminal")
			return
		}

		logger.Error("mark generation failed", zap.Error(err))
	}
}
