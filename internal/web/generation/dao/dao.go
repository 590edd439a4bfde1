// Package dao is the data access object for generation records.
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

	"github.com/pixmuse/pixmuse-api/internal/web/generation/model"
	"github.com/pixmuse/pixmuse-api/library/db/mongo"
)

const colGenerations = "generations"

// ErrNotFound no record matched the given id (and expected status, for the
// conditional transitions).
var ErrNotFound = errors.New("generation not found")

// Generation dao type
type Generation struct {
	logger glog.Logger
	db     mongo.DB
}

// New create new dao
func New(logger glog.Logger, db mongo.DB) *Generation {
	return &Generation{
		logger: logger,
		db:     db,
	}
}

// GetGenerationsCol get generations collection
func (d *Generation) GetGenerationsCol() *mongoLib.Collection {
	return d.db.GetCol(colGenerations)
}

// SetupIndexes creates the history and queue-health indexes.
func (d *Generation) SetupIndexes(ctx context.Context) error {
	col := d.GetGenerationsCol()

	if _, err := col.Indexes().CreateMany(ctx, []mongoLib.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.M{"status": 1}},
	}); err != nil {
		return errors.Wrap(err, "create generation indexes")
	}

	return nil
}

// Create inserts a new pending record and fills in its id.
func (d *Generation) Create(ctx context.Context, gen *model.Generation) error {
	ret, err := d.GetGenerationsCol().InsertOne(ctx, gen)
	if err != nil {
		return errors.Wrap(err, "insert generation")
	}

	if oid, ok := ret.InsertedID.(primitive.ObjectID); ok {
		gen.ID = oid
	}

	return nil
}

// GetByID loads one record by id.
func (d *Generation) GetByID(ctx context.Context, id primitive.ObjectID) (*model.Generation, error) {
	gen := new(model.Generation)
	err := d.GetGenerationsCol().
		FindOne(ctx, bson.M{"_id": id}).
		Decode(gen)
	if err != nil {
		if errors.Is(err, mongoLib.ErrNoDocuments) {
			return nil, errors.WithStack(ErrNotFound)
		}

		return nil, errors.Wrapf(err, "get generation %s", id.Hex())
	}

	return gen, nil
}

// ListByOwner returns the owner's records, newest first.
func (d *Generation) ListByOwner(ctx context.Context,
	ownerID primitive.ObjectID, page, size int) ([]*model.Generation, error) {
	cur, err := d.GetGenerationsCol().Find(ctx,
		bson.M{"owner_id": ownerID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetSkip(int64(page*size)).
			SetLimit(int64(size)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find generations")
	}
	defer cur.Close(ctx) //nolint:errcheck

	gens := []*model.Generation{}
	if err = cur.All(ctx, &gens); err != nil {
		return nil, errors.Wrap(err, "load generations")
	}

	return gens, nil
}

// ClaimPending transitions pending -> processing in a single conditional
// write, so only one concurrent worker can win the claim. Returns ErrNotFound
// when the record does not exist or is not pending.
func (d *Generation) ClaimPending(ctx context.Context,
	id primitive.ObjectID) (*model.Generation, error) {
	now := time.Now()
	gen := new(model.Generation)
	err := d.GetGenerationsCol().FindOneAndUpdate(ctx,
		bson.M{
			"_id":    id,
			"status": model.StatusPending,
		},
		bson.M{"$set": bson.M{
			"status":                model.StatusProcessing,
			"processing_started_at": now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(gen)
	if err != nil {
		if errors.Is(err, mongoLib.ErrNoDocuments) {
			return nil, errors.WithStack(ErrNotFound)
		}

		return nil, errors.Wrapf(err, "claim generation %s", id.Hex())
	}

	return gen, nil
}

// Complete transitions processing -> completed. The write is conditional on
// the record still being in processing; a cancel that landed first wins and
// the late result is discarded by returning ErrNotFound.
func (d *Generation) Complete(ctx context.Context,
	id primitive.ObjectID, outputRefs []string, startedAt time.Time) error {
	now := time.Now()
	ret, err := d.GetGenerationsCol().UpdateOne(ctx,
		bson.M{
			"_id":    id,
			"status": model.StatusProcessing,
		},
		bson.M{"$set": bson.M{
			"status":                 model.StatusCompleted,
			"output_image_refs":      outputRefs,
			"completed_at":           now,
			"processing_duration_ms": now.Sub(startedAt).Milliseconds(),
		}},
	)
	if err != nil {
		return errors.Wrapf(err, "complete generation %s", id.Hex())
	}
	if ret.MatchedCount == 0 {
		return errors.WithStack(ErrNotFound)
	}

	return nil
}

// MarkFailed transitions pending/processing -> failed with the given reason.
func (d *Generation) MarkFailed(ctx context.Context,
	id primitive.ObjectID, reason string, startedAt *time.Time) error {
	now := time.Now()
	set := bson.M{
		"status":         model.StatusFailed,
		"failure_reason": reason,
		"completed_at":   now,
	}
	if startedAt != nil {
		set["processing_duration_ms"] = now.Sub(*startedAt).Milliseconds()
	}

	ret, err := d.GetGenerationsCol().UpdateOne(ctx,
		bson.M{
			"_id": id,
			"status": bson.M{"$in": []model.Status{
				model.StatusPending, model.StatusProcessing,
			}},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return errors.Wrapf(err, "fail generation %s", id.Hex())
	}
	if ret.MatchedCount == 0 {
		return errors.WithStack(ErrNotFound)
	}

	return nil
}

// ResetForRetry transitions failed -> pending, clearing every mutable field
// while preserving id, owner, parameters and reserved credits.
func (d *Generation) ResetForRetry(ctx context.Context, id primitive.ObjectID) error {
	ret, err := d.GetGenerationsCol().UpdateOne(ctx,
		bson.M{
			"_id":    id,
			"status": model.StatusFailed,
		},
		bson.M{
			"$set": bson.M{"status": model.StatusPending},
			"$unset": bson.M{
				"failure_reason":         "",
				"output_image_refs":      "",
				"processing_started_at":  "",
				"completed_at":           "",
				"processing_duration_ms": "",
			},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "reset generation %s", id.Hex())
	}
	if ret.MatchedCount == 0 {
		return errors.WithStack(ErrNotFound)
	}

	return nil
}
