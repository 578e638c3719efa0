package middleware

import (
	"licensing-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error recorded on the gin context as the stable
// {error: {code, message}} JSON body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		base := errutil.Internal("internal error", err.Err).(errutil.BaseError)
		c.JSON(base.Code.HTTPStatus(), base.JSON())
	}
}
