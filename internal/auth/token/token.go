// Package token issues and verifies the HS256 bearer tokens of the API.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid_token")
	ErrTokenExpired  = errors.New("token_expired")
	ErrTokenRevoked  = errors.New("token_revoked")
	ErrMissingSecret = errors.New("auth_jwt_secret_required")
)

type Claims struct {
	UserID       string `json:"user_id"`
	CompanyID    string `json:"company_id,omitempty"`
	Role         string `json:"role"`
	Email        string `json:"email"`
	Type         Type   `json:"typ"`
	Impersonator string `json:"imp,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID    snowflake.ID
	CompanyID *snowflake.ID
	Role      tenantctx.Role
	Email     string
}

type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock `optional:"true"`
}

type Manager struct {
	secret           []byte
	issuer           string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	impersonationTTL time.Duration
	clock            clock.Clock
}

func New(p Params) (*Manager, error) {
	secret := []byte(p.Config.Auth.JWTSecret)
	if len(secret) == 0 {
		if p.Config.IsProduction() {
			return nil, ErrMissingSecret
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		p.Log.Warn("AUTH_JWT_SECRET not set, using an ephemeral signing key")
	}
	return NewManager(secret, p.Config.Auth, p.Clock), nil
}

func NewManager(secret []byte, cfg config.AuthConfig, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	m := &Manager{
		secret:           secret,
		issuer:           cfg.JWTIssuer,
		accessTTL:        cfg.AccessTTL,
		refreshTTL:       cfg.RefreshTTL,
		impersonationTTL: cfg.ImpersonationTTL,
		clock:            clk,
	}
	if m.issuer == "" {
		m.issuer = "greenpm"
	}
	if m.accessTTL <= 0 {
		m.accessTTL = 15 * time.Minute
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 7 * 24 * time.Hour
	}
	if m.impersonationTTL <= 0 {
		m.impersonationTTL = 30 * time.Minute
	}
	return m
}

func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

func (m *Manager) IssueAccess(s Subject) (Issued, error) {
	return m.issue(s, TypeAccess, m.accessTTL, 0)
}

func (m *Manager) IssueRefresh(s Subject) (Issued, error) {
	return m.issue(s, TypeRefresh, m.refreshTTL, 0)
}

// IssueImpersonation issues a short-lived access token for target carrying
// the acting admin in the imp claim. No refresh token is paired with it.
func (m *Manager) IssueImpersonation(target Subject, admin snowflake.ID) (Issued, error) {
	if admin == 0 {
		return Issued{}, ErrInvalidToken
	}
	return m.issue(target, TypeAccess, m.impersonationTTL, admin)
}

func (m *Manager) issue(s Subject, typ Type, ttl time.Duration, impersonator snowflake.ID) (Issued, error) {
	if s.UserID == 0 || !s.Role.Valid() {
		return Issued{}, ErrInvalidToken
	}
	now := m.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	expires := now.Add(ttl)

	claims := Claims{
		UserID: s.UserID.String(),
		Role:   string(s.Role),
		Email:  s.Email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   s.UserID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if s.CompanyID != nil {
		claims.CompanyID = s.CompanyID.String()
	}
	if impersonator != 0 {
		claims.Impersonator = impersonator.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{Token: signed, ID: id, ExpiresAt: expires}, nil
}

// Parse verifies signature, issuer, expiry and token type.
func (m *Manager) Parse(raw string, want Type) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Context converts verified claims into the request binding. An
// impersonation token yields the target binding with the admin attached.
func (c *Claims) Context() (tenantctx.Context, error) {
	userID, err := snowflake.ParseString(c.UserID)
	if err != nil || userID == 0 {
		return tenantctx.Context{}, ErrInvalidToken
	}
	role := tenantctx.Role(c.Role)
	if !role.Valid() {
		return tenantctx.Context{}, ErrInvalidToken
	}

	tc := tenantctx.Context{UserID: userID, Email: c.Email, Role: role, TokenID: c.ID}
	if role == tenantctx.RolePlatformAdmin {
		if c.Impersonator != "" {
			return tenantctx.Context{}, ErrInvalidToken
		}
		tc.PlatformAdmin = true
		return tc, nil
	}

	companyID, err := snowflake.ParseString(c.CompanyID)
	if err != nil || companyID == 0 {
		return tenantctx.Context{}, ErrInvalidToken
	}
	tc.CompanyID = companyID

	if c.Impersonator != "" {
		adminID, err := snowflake.ParseString(c.Impersonator)
		if err != nil || adminID == 0 {
			return tenantctx.Context{}, ErrInvalidToken
		}
		tc.Impersonator = &tenantctx.Context{
			UserID:        adminID,
			Role:          tenantctx.RolePlatformAdmin,
			PlatformAdmin: true,
		}
	}
	return tc, nil
}
