package domain

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
)

type Service interface {
	Signup(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	CompanyName string `json:"company_name"`
	Subdomain   string `json:"subdomain"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
}

type Result struct {
	Company *companydomain.Company  `json:"company"`
	Auth    *authdomain.LoginResult `json:"auth"`
}

// Provisioner creates a company with its plan, feature flags and first
// admin in a single transaction.
type Provisioner interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Provisioned, error)
}

type ProvisionRequest struct {
	Name          string
	Subdomain     string
	ContactEmail  string
	AdminEmail    string
	AdminPassword string
	AdminName     string
	AdminPhone    string
	PlanCode      string
}

type Provisioned struct {
	Company    *companydomain.Company
	Admin      *authdomain.User
	Assignment *plandomain.Assignment
}

var (
	ErrInvalidRequest     = errors.New("invalid_signup_request")
	ErrDefaultPlanMissing = errors.New("default_plan_missing")
)
