package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	platformadmindomain "github.com/smallbiznis/greenpm/internal/platformadmin/domain"
)

type SetCompanyStatusRequest struct {
	Status companydomain.Status `json:"status"`
	Reason string               `json:"reason"`
}

type AssignPlanRequest struct {
	PlanID snowflake.ID `json:"plan_id"`
	plandomain.AssignOptions
}

type OverrideFeatureRequest struct {
	Enabled    bool           `json:"enabled"`
	Config     map[string]any `json:"config"`
	UsageLimit *int64         `json:"usage_limit"`
	Reason     string         `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// -------- Companies --------

func (s *Server) ListCompanies(c *gin.Context) {
	var query companydomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, err := s.companySvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetPlatformCompany(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	company, err := s.companySvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": company})
}

func (s *Server) GetPlatformCompanyUsage(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	usage, err := s.companySvc.Usage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) SetCompanyStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req SetCompanyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	company, err := s.companySvc.SetStatus(c.Request.Context(), id, req.Status, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": company})
}

// -------- Plans --------

func (s *Server) ListPlans(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	items, err := s.planSvc.ListPlans(c.Request.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.planSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": plan})
}

func (s *Server) GetPlan(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.planSvc.GetPlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) UpsertPlanFeature(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req plandomain.PlanFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if module := strings.TrimSpace(c.Param("module")); module != "" {
		req.ModuleKey = module
	}

	feature, err := s.planSvc.UpsertPlanFeature(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": feature})
}

// -------- Company plan & billing --------

func (s *Server) AssignCompanyPlan(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.PlanID == 0 {
		AbortWithError(c, newValidationError("plan_id", "required", "plan_id is required"))
		return
	}

	assignment, err := s.planSvc.Assign(c.Request.Context(), companyID, req.PlanID, req.AssignOptions)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": assignment})
}

func (s *Server) GetCompanyPlan(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	assignment, err := s.planSvc.ActiveAssignment(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) GetEffectivePrice(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	price, err := s.planSvc.EffectiveMonthlyPrice(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": price})
}

func (s *Server) CreateContract(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req plandomain.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CompanyID = companyID

	contract, err := s.planSvc.CreateContract(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": contract})
}

// DownloadInvoice renders the monthly invoice PDF for ?period=YYYY-MM,
// defaulting to the current month.
func (s *Server) DownloadInvoice(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := parseBillingPeriod(c.Query("period"), s.clock.Now())
	if err != nil {
		AbortWithError(c, newValidationError("period", "invalid_period", "period must be YYYY-MM"))
		return
	}

	body, err := s.planSvc.RenderInvoice(c.Request.Context(), companyID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("invoice-%s-%s.pdf", companyID.String(), period.Format(monthLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", body)
}

// -------- Feature flags --------

func (s *Server) ListCompanyFeatures(c *gin.Context) {
	companyID, err := pathID(c, "id")
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

func (s *Server) OverrideFeature(c *gin.Context) {
	companyID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req OverrideFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	flag, err := s.flagSvc.Override(c.Request.Context(), featureflagdomain.OverrideRequest{
		CompanyID:  companyID,
		ModuleKey:  c.Param("module"),
		Enabled:    req.Enabled,
		Config:     req.Config,
		UsageLimit: req.UsageLimit,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flag})
}

// -------- Users --------

func (s *Server) UpdatePlatformUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req platformadmindomain.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.platformSvc.UpdateUser(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) SuspendUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.platformSvc.SuspendUser(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (s *Server) DeletePlatformUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.platformSvc.DeleteUser(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

// -------- Impersonation --------

func (s *Server) StartImpersonation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.platformSvc.StartImpersonation(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// EndImpersonation is called with the impersonation token, so it sits
// outside the platform-admin group.
func (s *Server) EndImpersonation(c *gin.Context) {
	if err := s.platformSvc.EndImpersonation(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// -------- Notifications --------

func (s *Server) BroadcastNotification(c *gin.Context) {
	var req platformadmindomain.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	notification, err := s.platformSvc.BroadcastNotification(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": notification})
}

func (s *Server) ListNotifications(c *gin.Context) {
	companyID, err := parseOptionalSnowflakeID(c.Query("company_id"))
	if err != nil {
		AbortWithError(c, newValidationError("company_id", "invalid_company_id", "invalid company_id"))
		return
	}

	items, err := s.platformSvc.ListNotifications(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
