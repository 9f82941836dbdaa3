package signup

import (
	"context"
	"strings"

	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/internal/signup/domain"
)

type service struct {
	authsvc     authdomain.Service
	provisioner domain.Provisioner
	planCode    string
}

const defaultPlanCode = "starter"

func NewService(cfg config.Config, authsvc authdomain.Service, provisioner domain.Provisioner) domain.Service {
	code := strings.TrimSpace(cfg.DefaultPlanCode)
	if code == "" {
		code = defaultPlanCode
	}
	return &service{
		authsvc:     authsvc,
		provisioner: provisioner,
		planCode:    code,
	}
}

func (s *service) Signup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.CompanyName) == "" {
		return nil, domain.ErrInvalidRequest
	}

	provisioned, err := s.provisioner.Provision(ctx, domain.ProvisionRequest{
		Name:          req.CompanyName,
		Subdomain:     req.Subdomain,
		ContactEmail:  req.Email,
		AdminEmail:    req.Email,
		AdminPassword: req.Password,
		AdminName:     req.FullName,
		AdminPhone:    req.Phone,
		PlanCode:      s.planCode,
	})
	if err != nil {
		return nil, err
	}

	session, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		Company: provisioned.Company,
		Auth:    session,
	}, nil
}
