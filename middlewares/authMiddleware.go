package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/procure_backend/models"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates a Bearer token and stamps the request context
// with the caller's identity. Requests without an Authorization header pass
// through anonymous; handlers that need an identity reject those themselves.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, auth)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetUserRoleInContext(ctx, claim.Role)
		if user, err := models.GetUserById(ctx, claim.ID); err == nil {
			ctx = utils.SetUsernameInContext(ctx, user.Username)
			ctx = utils.SetUserNameInContext(ctx, user.Name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth aborts anonymous requests. Mount after AuthMiddleware on
// routes that need an identity.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole aborts unless the caller holds one of the given roles.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		for _, allowed := range roles {
			if models.UserRole(role) == allowed {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}
