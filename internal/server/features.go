package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
)

// ListFeatures resolves every known module for the caller's company.
func (s *Server) ListFeatures(c *gin.Context) {
	companyID, err := s.featureCompanyID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.flagSvc.List(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetFeature(c *gin.Context) {
	companyID, err := s.featureCompanyID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.flagSvc.Resolve(c.Request.Context(), companyID, c.Param("module"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

// featureCompanyID is the caller's company. Platform admins name one with
// ?company_id=.
func (s *Server) featureCompanyID(c *gin.Context) (snowflake.ID, error) {
	ctx := c.Request.Context()
	if tenantctx.IsPlatformAdmin(ctx) {
		id, err := parseOptionalSnowflakeID(c.Query("company_id"))
		if err != nil || id == nil {
			return 0, newValidationError("company_id", "invalid_company_id", "company_id is required")
		}
		return *id, nil
	}
	companyID, ok := tenantctx.CompanyID(ctx)
	if !ok {
		return 0, ErrForbidden
	}
	return companyID, nil
}
