// Package auth provides the bearer-token middleware for the REST surface.
package auth

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pixmuse/pixmuse-api/library/jwt"
)

const ctxKeyAccountID = "auth_account_id"

// Middleware validates the Authorization header and stores the caller's
// account id on the gin context.
func Middleware(j *jwt.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := jwt.StripBearerPrefix(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := j.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "invalid token"})
			return
		}

		accountID, err := primitive.ObjectIDFromHex(claims.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyAccountID, accountID)
		c.Next()
	}
}

// AccountID returns the authenticated account id from the gin context.
func AccountID(c *gin.Context) (primitive.ObjectID, error) {
	v, ok := c.Get(ctxKeyAccountID)
	if !ok {
		return primitive.NilObjectID, errors.New("no account in context")
	}

	id, ok := v.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("malformed account in context")
	}

	return id, nil
}
