package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) OccupancyReport(c *gin.Context) {
	report, err := s.reportSvc.Occupancy(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
