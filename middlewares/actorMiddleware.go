package middlewares

import (
	"strconv"

	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"github.com/gin-gonic/gin"
)

// ActorMiddleware copies the identity headers set by the upstream gateway
// into the request context. Authentication itself happens at the gateway;
// this service trusts the headers and only enforces role rules.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if raw := c.GetHeader("X-Actor-Id"); raw != "" {
			if id, err := strconv.Atoi(raw); err == nil {
				ctx = utils.SetActorIdInContext(ctx, id)
			}
		}
		if name := c.GetHeader("X-Actor-Name"); name != "" {
			ctx = utils.SetActorNameInContext(ctx, name)
		}
		if role := c.GetHeader("X-Actor-Role"); role != "" {
			ctx = utils.SetActorRoleInContext(ctx, role)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
