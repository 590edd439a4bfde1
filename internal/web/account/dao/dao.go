// Package dao is the data access object for accounts and their credit balances.
package dao

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongoLib "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pixmuse/pixmuse-api/internal/web/account/model"
	"github.com/pixmuse/pixmuse-api/library/db/mongo"
)

const colAccounts = "accounts"

// Account dao type
type Account struct {
	logger glog.Logger
	db     mongo.DB
}

// New create new dao
func New(logger glog.Logger, db mongo.DB) *Account {
	return &Account{
		logger: logger,
		db:     db,
	}
}

// GetAccountsCol get accounts collection
func (d *Account) GetAccountsCol() *mongoLib.Collection {
	return d.db.GetCol(colAccounts)
}

// SetupIndexes creates the unique email index.
func (d *Account) SetupIndexes(ctx context.Context) error {
	if _, err := d.GetAccountsCol().Indexes().CreateOne(ctx, mongoLib.IndexModel{
		Keys:    bson.M{"email": 1},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "create index for email")
	}

	return nil
}

// GetByID loads one account by id.
func (d *Account) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Account, error) {
	acc := new(model.Account)
	err := d.GetAccountsCol().
		FindOne(ctx, bson.M{"_id": id}).
		Decode(acc)
	if err != nil {
		if errors.Is(err, mongoLib.ErrNoDocuments) {
			return nil, errors.WithStack(model.ErrAccountNotFound)
		}

		return nil, errors.Wrapf(err, "get account %s", id.Hex())
	}

	return acc, nil
}

// Deduct subtracts amount from the account balance in a single conditional
// update, so the balance can never go negative under concurrent deductions.
func (d *Account) Deduct(ctx context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return errors.Errorf("deduct amount must be positive, got %d", amount)
	}

	ret, err := d.GetAccountsCol().UpdateOne(ctx,
		bson.M{
			"_id":     id,
			"credits": bson.M{"$gte": amount},
		},
		bson.M{
			"$inc": bson.M{"credits": -amount},
			"$set": bson.M{"modified_at": time.Now()},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "deduct %d credits from %s", amount, id.Hex())
	}

	if ret.MatchedCount == 0 {
		// distinguish a depleted balance from a missing account
		if _, err := d.GetByID(ctx, id); err != nil {
			return errors.WithStack(err)
		}

		return errors.WithStack(model.ErrInsufficientFunds)
	}

	return nil
}

// Add credits amount to the account balance.
func (d *Account) Add(ctx context.Context, id primitive.ObjectID, amount int) error {
	if amount <= 0 {
		return errors.Errorf("add amount must be positive, got %d", amount)
	}

	ret, err := d.GetAccountsCol().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"credits": amount},
			"$set": bson.M{"modified_at": time.Now()},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "add %d credits to %s", amount, id.Hex())
	}
	if ret.MatchedCount == 0 {
		return errors.WithStack(model.ErrAccountNotFound)
	}

	return nil
}
