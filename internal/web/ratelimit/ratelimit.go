// Package ratelimit throttles generation requests per account.
package ratelimit

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"
	gutils "github.com/Laisky/go-utils/v6"

	"github.com/pixmuse/pixmuse-api/library/config"
	"github.com/pixmuse/pixmuse-api/library/log"

	"github.com/Laisky/zap"
)

// AccountThrottle rate limits generation creation per account id.
type AccountThrottle struct {
	mu        sync.Mutex
	cfg       *config.RateLimitConfig
	throttles *sync.Map
}

// New create new AccountThrottle
func New(cfg *config.RateLimitConfig) (*AccountThrottle, error) {
	if cfg.NPerSec <= 0 {
		return nil, errors.Errorf("NPerSec must bigger than 0")
	}
	if cfg.Burst < cfg.NPerSec {
		return nil, errors.Errorf("burst must bigger than NPerSec")
	}

	return &AccountThrottle{
		cfg:       cfg,
		throttles: new(sync.Map),
	}, nil
}

// Allow reports whether the account may create another generation now.
func (t *AccountThrottle) Allow(accountID string) bool {
	var tt *gutils.RateLimiter
	if tti, ok := t.throttles.Load(accountID); !ok {
		t.mu.Lock()
		if tti, ok = t.throttles.Load(accountID); !ok {
			var err error
			if tt, err = gutils.NewThrottleWithCtx(
				context.Background(),
				gutils.RateLimiterArgs{
					Max:     t.cfg.Burst,
					NPerSec: t.cfg.NPerSec,
				}); err != nil {
				log.Logger.Panic("create new throttle for account", zap.Error(err),
					zap.Int("Max", t.cfg.Burst),
					zap.Int("NPerSec", t.cfg.NPerSec))
			}
			t.throttles.Store(accountID, tt)
		} else {
			tt = tti.(*gutils.RateLimiter)
		}
		t.mu.Unlock()
	} else {
		tt = tti.(*gutils.RateLimiter)
	}

	return tt.Allow()
}
