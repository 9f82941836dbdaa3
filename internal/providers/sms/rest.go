package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

var ErrInvalidRecipient = errors.New("invalid_sms_recipient")

type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RESTProvider sends messages through a Twilio-compatible Messages API.
type RESTProvider struct {
	client *resty.Client
	cfg    Config
	log    *zap.Logger
}

func NewREST(cfg Config, log *zap.Logger) *RESTProvider {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &RESTProvider{
		client: client,
		cfg:    cfg,
		log:    log.Named("providers.sms"),
	}
}

func (p *RESTProvider) Send(ctx context.Context, to string, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrInvalidRecipient
	}

	var result messageResponse
	var apiErr errorResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("account", p.cfg.AccountSID).
		SetFormData(map[string]string{
			"To":   to,
			"From": p.cfg.From,
			"Body": body,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/2010-04-01/Accounts/{account}/Messages.json")
	if err != nil {
		return fmt.Errorf("failed to call SMS API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("SMS API error: %s (status: %d, code: %d)", apiErr.Message, resp.StatusCode(), apiErr.Code)
	}

	p.log.Debug("sms queued", zap.String("sid", result.SID), zap.String("status", result.Status))
	return nil
}
