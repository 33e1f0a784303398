package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ActorHeader = "X-User-ID"
	actorKey    = "actor_id"
)

// RequireActor достает id пользователя, проверенный на шлюзе. Без него 401.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorID returns the identity stored by RequireActor.
func ActorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
