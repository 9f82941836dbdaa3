package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// authorizeAction gates a route on the role policy for object and action.
// It must run after AuthRequired.
func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
