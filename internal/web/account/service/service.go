// Package service implements the account service and its credit ledger.
package service

import (
	"context"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pixmuse/pixmuse-api/internal/web/account/dao"
	"github.com/pixmuse/pixmuse-api/internal/web/account/model"
)

// Account service type
type Account struct {
	logger glog.Logger
	dao    *dao.Account
}

// New create new service
func New(logger glog.Logger, dao *dao.Account) *Account {
	return &Account{
		logger: logger,
		dao:    dao,
	}
}

// SetupIndexes prepares the collection indexes at startup.
func (s *Account) SetupIndexes(ctx context.Context) error {
	return s.dao.SetupIndexes(ctx)
}

// GetAccount loads one account by its hex id.
func (s *Account) GetAccount(ctx context.Context, id primitive.ObjectID) (*model.Account, error) {
	return s.dao.GetByID(ctx, id)
}

// Deduct removes amount credits from the account.
//
// The ledger has no notion of premium standing; callers check that before
// deciding to deduct. Returns model.ErrInsufficientFunds when the balance
// cannot cover the amount.
func (s *Account) Deduct(ctx context.Context, id primitive.ObjectID, amount int) error {
	if err := s.dao.Deduct(ctx, id, amount); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Add credits amount to the account, for top-ups and administrative refunds.
func (s *Account) Add(ctx context.Context, id primitive.ObjectID, amount int) error {
	if err := s.dao.Add(ctx, id, amount); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
