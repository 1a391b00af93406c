package middleware

import (
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
)

// rate windows are fixed 60-second buckets, reset at the first call after
// expiry. This is the documented policy, not a rolling window.
const rateWindow = 60 * time.Second

// Gate combines per-group command cooldowns and per-group-per-minute rate
// limiting over TTL-keyed entries. Expired entries are evicted lazily on
// read and by the cache janitor.
type Gate struct {
	cooldownSeconds int
	cooldowns       *cache.Cache
	windows         *cache.Cache
	logger          *logrus.Logger
}

// NewGate creates a rate/cooldown gate.
func NewGate(cfg *config.RateConfig, logger *logrus.Logger) *Gate {
	return &Gate{
		cooldownSeconds: cfg.CooldownSeconds,
		cooldowns:       cache.New(cache.NoExpiration, 10*time.Minute),
		windows:         cache.New(cache.NoExpiration, 10*time.Minute),
		logger:          logger,
	}
}

// CheckCooldown returns the whole seconds remaining on the cooldown for
// (group, command), or 0 when unset, expired, or cooldowns are disabled.
func (g *Gate) CheckCooldown(scopeKey, command string) int {
	if g.cooldownSeconds <= 0 {
		return 0
	}

	_, expiry, found := g.cooldowns.GetWithExpiration(scopeKey + ":" + command)
	if !found {
		return 0
	}

	remaining := time.Until(expiry)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// SetCooldown arms the cooldown for (group, command). A non-positive
// configured cooldown disables the mechanism entirely.
func (g *Gate) SetCooldown(scopeKey, command string) {
	if g.cooldownSeconds <= 0 {
		return
	}
	g.cooldowns.Set(scopeKey+":"+command, struct{}{}, time.Duration(g.cooldownSeconds)*time.Second)
}

// CheckRateLimit reports whether the group's call should be rejected.
// limit -1 disables limiting. The first call in a window seeds the bucket
// with count=1; at the limit the call is rejected without incrementing
// further, so the bucket keeps its original expiry.
func (g *Gate) CheckRateLimit(scopeKey string, limit int) bool {
	if limit < 0 {
		return false
	}

	v, found := g.windows.Get(scopeKey)
	if !found {
		g.windows.Set(scopeKey, int64(1), rateWindow)
		return false
	}

	count, _ := v.(int64)
	if count >= int64(limit) {
		g.logger.WithFields(logrus.Fields{
			"scope": scopeKey,
			"count": count,
			"limit": limit,
		}).Warn("Rate limit exceeded")
		return true
	}

	g.windows.Increment(scopeKey, 1)
	return false
}
