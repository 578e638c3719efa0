package middleware

import (
	"licensing-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// AdminIDHeader carries the verified admin principal injected by the
// upstream identity layer. The engine never checks credentials itself.
const AdminIDHeader = "X-Admin-ID"

const adminIDKey = "admin_id"

// RequireAdmin rejects requests that arrive without an admin principal.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetHeader(AdminIDHeader)
		if adminID == "" {
			err := errutil.Unauthorized("admin identity required").(errutil.BaseError)
			c.AbortWithStatusJSON(err.Code.HTTPStatus(), err.JSON())
			return
		}

		c.Set(adminIDKey, adminID)
		c.Next()
	}
}

// AdminID returns the principal set by RequireAdmin, empty outside admin routes.
func AdminID(c *gin.Context) string {
	return c.GetString(adminIDKey)
}
