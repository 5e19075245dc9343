package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ExchangeRateLimiter acota cuantos intercambios de ID token acepta una IP por ventana.
// clientIP debe venir de gin.Context.ClientIP con proxies confiables configurados.
type ExchangeRateLimiter interface {
	Allow(ctx context.Context, clientIP string) bool
}

// memoryRateLimiter guarda un log deslizante de intentos por IP, para una sola replica.
type memoryRateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	attempts  map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryRateLimiter(window time.Duration, limit int) ExchangeRateLimiter {
	window, limit = limiterBounds(window, limit)
	return &memoryRateLimiter{
		window:   window,
		limit:    limit,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *memoryRateLimiter) Allow(_ context.Context, clientIP string) bool {
	ip := strings.TrimSpace(clientIP)
	if ip == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.evictIdle(cutoff)
		l.lastSweep = now
	}

	recent := dropExpired(l.attempts[ip], cutoff)
	if len(recent) >= l.limit {
		l.attempts[ip] = recent
		return false
	}
	l.attempts[ip] = append(recent, now)
	return true
}

// evictIdle borra las IPs sin intentos dentro de la ventana.
func (l *memoryRateLimiter) evictIdle(cutoff time.Time) {
	for ip, ts := range l.attempts {
		recent := dropExpired(ts, cutoff)
		if len(recent) == 0 {
			delete(l.attempts, ip)
			continue
		}
		l.attempts[ip] = recent
	}
}

// dropExpired asume ts ordenado de mas viejo a mas nuevo.
func dropExpired(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == len(ts) {
		return nil
	}
	return ts[i:]
}

func limiterBounds(window time.Duration, limit int) (time.Duration, int) {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 1
	}
	return window, limit
}
