package sms

import (
	"context"

	"github.com/smallbiznis/greenpm/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.sms",
	fx.Provide(NewFromConfig),
)

type Provider interface {
	Send(ctx context.Context, to string, body string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to string, body string) error {
	return nil
}

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.SMS.AccountSID == "" || cfg.SMS.AuthToken == "" {
		log.Info("SMS credentials not set, outgoing SMS disabled")
		return &NoOpProvider{}
	}
	return NewREST(Config{
		BaseURL:    cfg.SMS.BaseURL,
		AccountSID: cfg.SMS.AccountSID,
		AuthToken:  cfg.SMS.AuthToken,
		From:       cfg.SMS.From,
	}, log)
}
