// Package controller exposes the account REST handlers.
package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/pixmuse/pixmuse-api/internal/web/account/model"
	"github.com/pixmuse/pixmuse-api/internal/web/account/service"
	"github.com/pixmuse/pixmuse-api/internal/web/auth"
)

// Account controller type
type Account struct {
	svc *service.Account
}

// New create new controller
func New(svc *service.Account) *Account {
	return &Account{svc: svc}
}

// RegisterRoutes mounts the account endpoints on the router group.
func (ctl *Account) RegisterRoutes(grp *gin.RouterGroup) {
	grp.GET("/account", ctl.Get)
}

// Get returns the caller's account with its current credit balance.
func (ctl *Account) Get(c *gin.Context) {
	accountID, err := auth.AccountID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	acc, err := ctl.svc.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		gmw.GetLogger(c).Error("get account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, acc)
}
