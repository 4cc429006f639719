package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
	"github.com/blaahhrrgg/equity-risk-model/pkg/redis"
)

// clientLimiter 클라이언트별 토큰 버킷
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter 클라이언트 IP 기준 요청 제한
// 공유 Redis 제한기가 있으면 우선 사용, 오류 시 로컬 토큰 버킷으로 대체
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	shared *redis.RateLimiter
	logger *logger.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewRateLimiter creates a per-client limiter (shared 는 nil 가능)
func NewRateLimiter(perSecond float64, burst int, shared *redis.RateLimiter, log *logger.Logger) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     10 * time.Minute,
		shared:  shared,
		logger:  log,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// Allow reports whether a request from client may proceed
func (l *RateLimiter) Allow(r *http.Request, client string) bool {
	if l.shared.Enabled() {
		// 공유 창: 1초 창에 burst 만큼 허용
		ok, _, err := l.shared.Allow(r.Context(), redis.ClientRateLimit(client, l.burst, time.Second))
		if err == nil {
			return ok
		}
		l.logger.WithError(err).Warn("shared rate limiter unavailable, using local limiter")
	}
	return l.local(client).Allow()
}

// local 클라이언트 제한기 조회/생성 + 오래된 항목 정리
func (l *RateLimiter) local(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
		l.prune(now)
	}
	c.lastAccess = now
	return c.limiter
}

func (l *RateLimiter) prune(now time.Time) {
	for k, c := range l.clients {
		if now.Sub(c.lastAccess) > l.ttl {
			delete(l.clients, k)
		}
	}
}

// Middleware rejects requests over the limit with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !l.Allow(r, client) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			respondTooMany(w)
			l.logger.WithField("client", client).Debug("rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP X-Forwarded-For 첫 항목, 없으면 RemoteAddr 호스트
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondTooMany(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, contracts.ErrorResponse{
		Error: "rate limit exceeded",
		Code:  "rate_limited",
	})
}
