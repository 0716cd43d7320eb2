package main

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aagudeloRN/RAGPruebas/api/handlers"
	"github.com/aagudeloRN/RAGPruebas/types"
)

const (
	visitorTTL    = 3 * time.Minute
	sweepInterval = time.Minute
)

// ipLimiters 每个客户端 IP 一个令牌桶，闲置超过 visitorTTL 的被回收
type ipLimiters struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	return &ipLimiters{rps: rate.Limit(rps), burst: burst, visitors: make(map[string]*visitor)}
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep 删除 now 之前 visitorTTL 内没有请求的 IP，返回删除数量
func (l *ipLimiters) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}

func (l *ipLimiters) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// retryAfter 桶里攒够一个令牌所需的秒数，至少 1
func (l *ipLimiters) retryAfter() int {
	if l.rps <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(l.rps))))
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimiter 按客户端 IP 限流，超限返回 429 并带 Retry-After。
// ctx 结束时停止回收协程。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	limiters := newIPLimiters(rps, burst)
	go limiters.sweepLoop(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if limiters.get(ip, time.Now()).Allow() {
				next.ServeHTTP(w, r)
				return
			}
			logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", strconv.Itoa(limiters.retryAfter()))
			handlers.WriteErrorMessage(w, r, http.StatusTooManyRequests, types.ErrRateLimit, "too many requests", nil)
		})
	}
}
