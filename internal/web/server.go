// Package web gin server
package web

import (
	"net/http"
	"net/url"
	"strings"

	ginMw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	accountCtl "github.com/pixmuse/pixmuse-api/internal/web/account/controller"
	"github.com/pixmuse/pixmuse-api/internal/web/auth"
	generationCtl "github.com/pixmuse/pixmuse-api/internal/web/generation/controller"
	"github.com/pixmuse/pixmuse-api/library/config"
	"github.com/pixmuse/pixmuse-api/library/jwt"
	"github.com/pixmuse/pixmuse-api/library/log"
)

var server = gin.New()

// RunServer mounts every controller and serves until the process exits.
func RunServer(cfg *config.Config, j *jwt.JWT,
	generations *generationCtl.Generation, accounts *accountCtl.Account) {
	server.Use(
		gin.Recovery(),
		ginMw.NewLoggerMiddleware(
			ginMw.WithLoggerMwColored(),
			ginMw.WithLevel(log.Logger.Level().String()),
			ginMw.WithLogger(log.Logger.Named("gin")),
		),
		allowCORS,
	)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	api := server.Group("/api/v1", auth.Middleware(j))
	generations.RegisterRoutes(api)
	accounts.RegisterRoutes(api)

	log.Logger.Info("listening on http", zap.String("addr", cfg.Listen))
	log.Logger.Panic("httpServer exit", zap.Error(server.Run(cfg.Listen)))
}

func allowCORS(ctx *gin.Context) {
	origin := ctx.Request.Header.Get("Origin")
	allowedOrigin := ""

	if origin != "" {
		parsedOriginURL, err := url.Parse(origin)
		if err == nil {
			host := strings.ToLower(parsedOriginURL.Hostname())
			if strings.HasSuffix(host, ".pixmuse.app") || host == "pixmuse.app" {
				allowedOrigin = origin
			}
		}
	}

	if allowedOrigin != "" {
		ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-CSRF-Token, X-Requested-With")
		ctx.Header("Access-Control-Max-Age", "86400")
		ctx.Header("Vary", "Origin")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
	} else if origin != "" && ctx.Request.Method == http.MethodOptions {
		// deny preflight from disallowed origins
		ctx.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx.Next()
}
