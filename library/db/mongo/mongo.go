// Package mongo provides a wrapper for the MongoDB client.
package mongo

import (
	"context"
	"net/url"
	"time"

	"github.com/pixmuse/pixmuse-api/library/log"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultHeartbeat = 10 * time.Second
)

// DB is the narrow database surface the service depends on.
type DB interface {
	Close(ctx context.Context) error
	GetCol(colName string) *mongo.Collection
	CurrentDB() *mongo.Database
}

// DialInfo defines the MongoDB connection information.
type DialInfo struct {
	Addr,
	DBName,
	User,
	Pwd string
	AuthDB string
}

type db struct {
	cli      *mongo.Client
	dialInfo DialInfo
}

var (
	connectMongo = func(ctx context.Context, clientOpts *options.ClientOptions) (*mongo.Client, error) {
		return mongo.Connect(ctx, clientOpts)
	}
	pingMongo = func(ctx context.Context, cli *mongo.Client) error {
		return cli.Ping(ctx, readpref.Primary())
	}
	disconnectMongo = func(ctx context.Context, cli *mongo.Client) error {
		return cli.Disconnect(ctx)
	}
)

// buildMongoURI builds a MongoDB connection URI from the given dial info.
func buildMongoURI(dialInfo DialInfo) string {
	uri := &url.URL{
		Scheme: "mongodb",
		Host:   dialInfo.Addr,
		Path:   "/" + dialInfo.DBName,
	}
	if dialInfo.User != "" || dialInfo.Pwd != "" {
		uri.User = url.UserPassword(dialInfo.User, dialInfo.Pwd)
	}
	if dialInfo.AuthDB != "" {
		query := url.Values{}
		query.Set("authSource", dialInfo.AuthDB)
		uri.RawQuery = query.Encode()
	}
	return uri.String()
}

// NewDB creates ONE long-lived mongo.Client and relies on the driver for
// pooling and reconnects.
func NewDB(ctx context.Context, dialInfo DialInfo) (DB, error) {
	log.Logger.Info("try to connect to mongodb",
		zap.String("addr", dialInfo.Addr),
		zap.String("db", dialInfo.DBName),
	)

	// Bound initial connect + ping so startup failures surface quickly.
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(buildMongoURI(dialInfo)).
		SetConnectTimeout(30 * time.Second).
		SetServerSelectionTimeout(30 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetHeartbeatInterval(defaultHeartbeat).
		SetRetryReads(true).
		SetRetryWrites(true).
		SetMaxPoolSize(100).
		SetMinPoolSize(0).
		SetMaxConnecting(2).
		SetMaxConnIdleTime(300 * time.Second)

	cli, err := connectMongo(ctx, clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "connect db")
	}

	// Force a first server selection now so failures happen at startup, not later.
	if err := pingMongo(ctx, cli); err != nil {
		_ = disconnectMongo(context.Background(), cli)
		return nil, errors.Wrap(err, "ping db")
	}

	return &db{cli: cli, dialInfo: dialInfo}, nil
}

// CurrentDB returns the database based on the dial info.
func (d *db) CurrentDB() *mongo.Database {
	return d.cli.Database(d.dialInfo.DBName)
}

// GetCol returns a collection handle by name.
func (d *db) GetCol(colName string) *mongo.Collection {
	return d.CurrentDB().Collection(colName)
}

// Close disconnects the underlying client, bounded so shutdown cannot hang.
func (d *db) Close(ctx context.Context) error {
	if d.cli == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	closeCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := disconnectMongo(closeCtx, d.cli); err != nil {
		return errors.Wrap(err, "disconnect db")
	}

	d.cli = nil
	return nil
}
