package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	exchangeKeyPrefix   = "auth:google:ip:"
	redisLimiterTimeout = 300 * time.Millisecond
)

// Log deslizante en un sorted set: score = ms del intento. Devuelve 1 si entra, 0 si no.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`

type scriptRunner interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisRateLimiter comparte el log de intentos entre replicas.
type redisRateLimiter struct {
	logger *zap.Logger
	client scriptRunner
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewRedisRateLimiter devuelve nil si no hay cliente.
func NewRedisRateLimiter(logger *zap.Logger, client *redis.Client, window time.Duration, limit int) ExchangeRateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	window, limit = limiterBounds(window, limit)
	return &redisRateLimiter{
		logger: logger,
		client: client,
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow falla abierto si redis no responde.
func (l *redisRateLimiter) Allow(ctx context.Context, clientIP string) bool {
	ip := strings.TrimSpace(clientIP)
	if ip == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, redisLimiterTimeout)
	defer cancel()

	nowMs := l.now().UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	admitted, err := l.client.Eval(ctx, slidingWindowScript,
		[]string{exchangeKeyPrefix + ip},
		nowMs, l.window.Milliseconds(), l.limit, member,
	).Int()
	if err != nil {
		l.logger.Warn("exchange rate limit check failed", zap.String("client_ip", ip), zap.Error(err))
		return true
	}
	return admitted == 1
}
