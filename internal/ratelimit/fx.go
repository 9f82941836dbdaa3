package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/greenpm/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewLimiters),
)

// NewRedisClient returns nil when REDIS_ADDR is unset.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		log.Info("redis not configured, using in-process rate limits")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// NewLimiters builds the login and password-reset limiters. Both allow
// AUTH_LOGIN_RATE_PER_MINUTE attempts per client per minute.
func NewLimiters(cfg config.Config, client *redis.Client) (Limiters, error) {
	perMinute := cfg.Auth.LoginRatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	if client == nil {
		return Limiters{
			Login:         NewSlidingWindow(nil, perMinute, time.Minute),
			PasswordReset: NewSlidingWindow(nil, perMinute, time.Minute),
		}, nil
	}

	rate := float64(perMinute) / 60
	login, err := NewTokenBucket(client, "greenpm:rl:login:", rate, perMinute)
	if err != nil {
		return Limiters{}, err
	}
	reset, err := NewTokenBucket(client, "greenpm:rl:password_reset:", rate, perMinute)
	if err != nil {
		return Limiters{}, err
	}
	return Limiters{Login: login, PasswordReset: reset}, nil
}
