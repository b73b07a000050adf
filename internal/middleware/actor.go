package middleware

import (
	"fmt"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	apierrors "github.com/yukikurage/task-hierarchy-api/internal/errors"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
)

// ResolveActor records who performs the request so history entries can name
// them. The session's user_id wins over the X-Actor-ID header. Requests with
// neither are anonymous and still allowed. An actor id longer than the
// history column is rejected.
func ResolveActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := sessionUserID(c)
		if actorID == "" {
			actorID = c.GetHeader(constants.HeaderActorID)
		}

		if len(actorID) > constants.MaxActorIDLength {
			apierrors.BadRequest(c, fmt.Sprintf("actor id must be at most %d characters", constants.MaxActorIDLength))
			return
		}

		if actorID != "" {
			c.Set(constants.ContextKeyActorID, actorID)
			c.Request = c.Request.WithContext(services.WithActor(c.Request.Context(), actorID))
		}
		c.Next()
	}
}

// GetActorID retrieves the actor resolved for the current request
func GetActorID(c *gin.Context) (string, bool) {
	actorID := c.GetString(constants.ContextKeyActorID)
	return actorID, actorID != ""
}

// sessionUserID reads user_id from the session, if a session store is installed
func sessionUserID(c *gin.Context) string {
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}

	userID := sessions.Default(c).Get(constants.ContextKeyUserID)
	switch v := userID.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
