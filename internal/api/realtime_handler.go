package api

import (
	"github.com/aethra/domus/internal/errors"
	"github.com/aethra/domus/internal/realtime"
	"github.com/gin-gonic/gin"
)

// Realtime upgrades to a websocket that receives the events addressed to
// the account of the token. Browsers cannot set headers on websocket
// requests, so the access token comes as a query parameter.
// GET /ws?token=...
func (h *Handler) Realtime(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			abortWith(c, errors.NewUnauthorizedError("token required"))
			return
		}
		claims, err := h.authenticate(c, token)
		if err != nil {
			abortWith(c, err)
			return
		}
		hub.Serve(c.Writer, c.Request, claims.SubjectID)
	}
}
