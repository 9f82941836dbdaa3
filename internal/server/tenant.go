package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
)

type tenantResponse struct {
	Resolved   bool   `json:"resolved"`
	CompanyID  string `json:"company_id,omitempty"`
	Subdomain  string `json:"subdomain,omitempty"`
	BaseDomain string `json:"base_domain"`
}

// GetTenant echoes what the request host resolved to.
func (s *Server) GetTenant(c *gin.Context) {
	resp := tenantResponse{BaseDomain: s.tenancy.BaseDomain()}
	if res, ok := resolutionFromContext(c); ok {
		resp.Resolved = true
		resp.CompanyID = res.CompanyID.String()
		resp.Subdomain = res.Subdomain
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCompany(c *gin.Context) {
	companyID, ok := tenantctx.CompanyID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	company, err := s.companySvc.Get(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": company})
}

func (s *Server) UpdateCompany(c *gin.Context) {
	companyID, ok := tenantctx.CompanyID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req companydomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	company, err := s.companySvc.Update(c.Request.Context(), companyID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": company})
}

func (s *Server) GetCompanyUsage(c *gin.Context) {
	companyID, ok := tenantctx.CompanyID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	usage, err := s.companySvc.Usage(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}
