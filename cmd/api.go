package cmd

import (
	"context"

	"github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/pixmuse/pixmuse-api/internal/library/falai"
	"github.com/pixmuse/pixmuse-api/internal/web"
	accountCtl "github.com/pixmuse/pixmuse-api/internal/web/account/controller"
	accountDao "github.com/pixmuse/pixmuse-api/internal/web/account/dao"
	accountSvc "github.com/pixmuse/pixmuse-api/internal/web/account/service"
	generationCtl "github.com/pixmuse/pixmuse-api/internal/web/generation/controller"
	generationDao "github.com/pixmuse/pixmuse-api/internal/web/generation/dao"
	generationSvc "github.com/pixmuse/pixmuse-api/internal/web/generation/service"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/store"
	"github.com/pixmuse/pixmuse-api/internal/web/ratelimit"
	"github.com/pixmuse/pixmuse-api/library/config"
	"github.com/pixmuse/pixmuse-api/library/db/mongo"
	"github.com/pixmuse/pixmuse-api/library/jwt"
	"github.com/pixmuse/pixmuse-api/library/log"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `REST API service for the pixmuse mobile app`,
	Args:  gcmd.NoExtraArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := initialize(ctx, cmd)
		if err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}

		if err := runAPI(ctx, cfg); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

func runAPI(ctx context.Context, cfg *config.Config) error {
	db, err := mongo.NewDB(ctx, mongo.DialInfo{
		Addr:   cfg.Mongo.Addr,
		DBName: cfg.Mongo.DBName,
		User:   cfg.Mongo.User,
		Pwd:    cfg.Mongo.Pwd,
		AuthDB: cfg.Mongo.AuthDB,
	})
	if err != nil {
		return errors.Wrap(err, "connect mongodb")
	}

	minioCli, err := minio.New(cfg.Artifacts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Artifacts.AccessKey, cfg.Artifacts.SecretKey, ""),
		Secure: cfg.Artifacts.UseSSL,
	})
	if err != nil {
		return errors.Wrap(err, "create minio client")
	}

	j, err := jwt.New([]byte(cfg.Secret))
	if err != nil {
		return errors.Wrap(err, "setup jwt")
	}

	accounts := accountSvc.New(log.Logger.Named("account"),
		accountDao.New(log.Logger.Named("account_dao"), db))
	if err := accounts.SetupIndexes(ctx); err != nil {
		return errors.Wrap(err, "setup account indexes")
	}

	genDao := generationDao.New(log.Logger.Named("generation_dao"), db)
	if err := genDao.SetupIndexes(ctx); err != nil {
		return errors.Wrap(err, "setup generation indexes")
	}

	artifacts := store.New(log.Logger.Named("artifacts"), minioCli, &cfg.Artifacts, nil)
	provider := falai.New(&cfg.Provider, nil)

	generations := generationSvc.New(log.Logger.Named("generation"),
		genDao, accounts, provider, artifacts)

	dispatcher := generationSvc.NewDispatcher(log.Logger.Named("dispatcher"),
		generations, cfg.Worker.Workers, cfg.Worker.QueueDepth)
	dispatcher.Start(ctx)

	throttle, err := ratelimit.New(&cfg.RateLimit)
	if err != nil {
		return errors.Wrap(err, "create account throttle")
	}

	web.RunServer(cfg, j,
		generationCtl.New(generations, dispatcher, throttle),
		accountCtl.New(accounts),
	)
	return nil
}

func init() {
	rootCMD.AddCommand(apiCMD)
}
