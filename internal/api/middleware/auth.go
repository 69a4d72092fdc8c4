package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
)

// Resolver maps a bearer token to a caller.
type Resolver interface {
	Resolve(token string) (appmanager.Caller, error)
}

// Authenticate attaches the caller named by the Authorization header to the
// request context. Requests without the header proceed anonymously; a bad
// token is rejected.
func Authenticate(tokens Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || tokens == nil {
			c.Next()
			return
		}

		token, ok := permission.BearerToken(header)
		if !ok {
			reject(c, "malformed authorization header")
			return
		}
		caller, err := tokens.Resolve(token)
		if err != nil {
			reject(c, err.Error())
			return
		}

		c.Request = c.Request.WithContext(appmanager.WithCaller(c.Request.Context(), caller))
		c.Set("caller", caller.ID)
		c.Next()
	}
}

func reject(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="appmanager"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  int(appmanager.CodePermissionDenied),
		"error": msg,
	})
}
