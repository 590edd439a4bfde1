// Package controller exposes the generation REST handlers.
package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pixmuse/pixmuse-api/internal/web/auth"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/dto"
	"github.com/pixmuse/pixmuse-api/internal/web/generation/service"
	"github.com/pixmuse/pixmuse-api/internal/web/ratelimit"
)

// Generation controller type
type Generation struct {
	svc        *service.Generation
	dispatcher *service.Dispatcher
	throttle   *ratelimit.AccountThrottle
}

// New create new controller
func New(svc *service.Generation, dispatcher *service.Dispatcher,
	throttle *ratelimit.AccountThrottle) *Generation {
	return &Generation{
		svc:        svc,
		dispatcher: dispatcher,
		throttle:   throttle,
	}
}

// RegisterRoutes mounts the generation endpoints on the router group.
func (ctl *Generation) RegisterRoutes(grp *gin.RouterGroup) {
	grp.POST("/generations", ctl.Create)
	grp.GET("/generations", ctl.List)
	grp.GET("/generations/:id", ctl.Get)
	grp.POST("/generations/:id/retry", ctl.Retry)
	grp.POST("/generations/:id/cancel", ctl.Cancel)
}

// Create validates the request, inserts a pending record and submits it for
// asynchronous processing. The response returns before processing starts.
func (ctl *Generation) Create(c *gin.Context) {
	logger := gmw.GetLogger(c)

	ownerID, err := auth.AccountID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if !ctl.throttle.Allow(ownerID.Hex()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many generation requests"})
		return
	}

	req := new(dto.CreateGenerationRequest)
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	prompt, params, err := req.Normalize()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	gen, err := ctl.svc.Create(c.Request.Context(), ownerID, prompt, req.InputImageRef, params)
	if err != nil {
		logger.Error("create generation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// fire and forget; a full queue already failed the record
	if err := ctl.dispatcher.Submit(c.Request.Context(), gen.ID); err != nil {
		logger.Warn("submit generation", zap.Error(err))
	}

	c.JSON(http.StatusAccepted, dto.NewGenerationResponse(gen))
}

// Get returns one record owned by the caller.
func (ctl *Generation) Get(c *gin.Context) {
	ownerID, genID, ok := ctl.identify(c)
	if !ok {
		return
	}

	gen, err := ctl.svc.Get(c.Request.Context(), genID, ownerID)
	if err != nil {
		ctl.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGenerationResponse(gen))
}

// List returns the caller's records, newest first.
func (ctl *Generation) List(c *gin.Context) {
	logger := gmw.GetLogger(c)

	ownerID, err := auth.AccountID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var query struct {
		Page int `form:"page"`
		Size int `form:"size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed query"})
		return
	}

	gens, err := ctl.svc.List(c.Request.Context(), ownerID, query.Page, query.Size)
	if err != nil {
		logger.Error("list generations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := make([]*dto.GenerationResponse, 0, len(gens))
	for _, gen := range gens {
		resp = append(resp, dto.NewGenerationResponse(gen))
	}

	c.JSON(http.StatusOK, gin.H{"generations": resp})
}

// Retry resets a failed record to pending and resubmits it.
func (ctl *Generation) Retry(c *gin.Context) {
	logger := gmw.GetLogger(c)

	ownerID, genID, ok := ctl.identify(c)
	if !ok {
		return
	}

	if err := ctl.svc.Retry(c.Request.Context(), genID, ownerID); err != nil {
		ctl.renderError(c, err)
		return
	}

	if err := ctl.dispatcher.Submit(c.Request.Context(), genID); err != nil {
		logger.Warn("submit retried generation", zap.Error(err))
	}

	gen, err := ctl.svc.Get(c.Request.Context(), genID, ownerID)
	if err != nil {
		ctl.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewGenerationResponse(gen))
}

// Cancel fails a pending or processing record on the caller's behalf.
func (ctl *Generation) Cancel(c *gin.Context) {
	ownerID, genID, ok := ctl.identify(c)
	if !ok {
		return
	}

	if err := ctl.svc.Cancel(c.Request.Context(), genID, ownerID); err != nil {
		ctl.renderError(c, err)
		return
	}

	gen, err := ctl.svc.Get(c.Request.Context(), genID, ownerID)
	if err != nil {
		ctl.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGenerationResponse(gen))
}

// identify extracts the caller's account id and the record id from the request.
func (ctl *Generation) identify(c *gin.Context) (ownerID, genID primitive.ObjectID, ok bool) {
	ownerID, err := auth.AccountID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return ownerID, genID, false
	}

	genID, err = primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed generation id"})
		return ownerID, genID, false
	}

	return ownerID, genID, true
}

func (ctl *Generation) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
	case errors.Is(err, service.ErrNotCancelable),
		errors.Is(err, service.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		gmw.GetLogger(c).Error("generation handler", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
