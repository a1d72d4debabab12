package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ineyio/sitegen"
)

const (
	subjectKey      = "sitegen.subject"
	authFailureKey  = "sitegen.auth_failure"
	requestIDHeader = "X-Request-ID"
	tokenCookie     = "token"
	subjectClaim    = "userId"
)

// requestLogger tags each request with an id and logs it when it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(log.Fields{
			"request_id":  reqID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if subject := c.GetString(subjectKey); subject != "" {
			entry = entry.WithField("subject", subject)
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func (s *Server) httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.prom.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// authFailure records why a request carries no usable subject.
type authFailure struct {
	status int
	kind   string
	msg    string
}

// identify verifies the session token, if any, and stores the subject on the
// context. It never aborts; requireSubject rejects requests afterwards so that
// rate limiting can still see anonymous clients.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw, _ = c.Cookie(tokenCookie)
		}
		if raw == "" {
			c.Set(authFailureKey, authFailure{http.StatusUnauthorized, "unauthorized", "missing session token"})
			return
		}

		subject, err := s.parseSubject(raw)
		if err != nil {
			s.logger.WithError(err).Debug("token rejected")
			c.Set(authFailureKey, authFailure{http.StatusUnauthorized, "unauthorized", "invalid session token"})
			return
		}
		if err := sitegen.ValidateSubject(subject); err != nil {
			c.Set(authFailureKey, authFailure{http.StatusBadRequest, "invalid_subject", err.Error()})
			return
		}

		c.Set(subjectKey, subject)
	}
}

// requireSubject rejects requests identify could not attach a subject to.
func (s *Server) requireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(subjectKey) != "" {
			c.Next()
			return
		}
		f, ok := c.Get(authFailureKey)
		failure, _ := f.(authFailure)
		if !ok {
			failure = authFailure{http.StatusUnauthorized, "unauthorized", "missing session token"}
		}
		abort(c, failure.status, failure.kind, failure.msg)
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// parseSubject verifies an HS256 token and returns its userId claim.
// Numeric ids are rendered in decimal.
func (s *Server) parseSubject(raw string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	switch v := claims[subjectClaim].(type) {
	case string:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return "", fmt.Errorf("non-integer %s claim", subjectClaim)
		}
		return strconv.FormatInt(int64(v), 10), nil
	case nil:
		return "", fmt.Errorf("missing %s claim", subjectClaim)
	default:
		return "", fmt.Errorf("unsupported %s claim type %T", subjectClaim, v)
	}
}

// rateLimit throttles by subject, or by client IP when the request is anonymous.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(subjectKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiter.allow(key, s.now()) {
			s.logger.WithFields(log.Fields{"key": key, "path": c.Request.URL.Path}).Warn("rate limit exceeded")
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterPruneSize = 10000
)

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= limiterPruneSize {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
