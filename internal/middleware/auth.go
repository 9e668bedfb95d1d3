package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openfondos/grantmirror/internal/platform/logger"
)

// TriggerAuth guards the sync trigger endpoints with a shared bearer token.
// With no token configured every request is rejected, so a misconfigured
// deployment fails closed.
type TriggerAuth struct {
	log   *logger.Logger
	token string
}

// NewTriggerAuth takes the token from the already-validated config rather
// than reading the environment again.
func NewTriggerAuth(log *logger.Logger, token string) *TriggerAuth {
	if token == "" && log != nil {
		log.Warn("SYNC_TRIGGER_TOKEN not set; sync endpoints will reject all requests")
	}
	return &TriggerAuth{log: log, token: token}
}

func (m *TriggerAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "sync trigger disabled", "code": "trigger_disabled"}})
			return
		}
		header := c.GetHeader("Authorization")
		provided := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(m.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid token", "code": "unauthorized"}})
			return
		}
		c.Next()
	}
}
