package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/example/nileusers/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyPrincipal contextKey = "principal"
)

func withPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// principalFrom returns the principal RequireRole stored, if any.
func principalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(*auth.Principal)
	return p, ok && p != nil
}

// RequireRole runs the guard before every route on the router it is attached
// to. The route name is the operation id looked up in the declarations, so it
// must be used on a subrouter where routes are already matched.
func (a *App) RequireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var op string
		if route := mux.CurrentRoute(r); route != nil {
			op = route.GetName()
		}

		p, err := a.Guard.Authorize(r.Context(), auth.Call{
			Credential: r.Header.Get("Authorization"),
			Operation:  op,
		})
		if err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequestID tags each request with an id, reusing a client-sent X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery turns a handler panic into a 500.
func (a *App) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.Log.Error("panic recovered in HTTP handler",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("request_id", r.Context().Value(ctxKeyRequestID)),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS middleware handles CORS headers. An empty allow-list allows any origin.
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && a.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *App) isAllowedOrigin(origin string) bool {
	if len(a.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range a.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// limiterIdleTTL is how long an address may stay quiet before its bucket is
// dropped. A bucket refills completely within a minute, so nothing is lost.
const limiterIdleTTL = time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client address. Buckets idle
// longer than limiterIdleTTL are swept, at most once per TTL.
type RateLimiter struct {
	limiters       map[string]*limiterEntry
	limitPerMinute int
	lastSweep      time.Time
	now            func() time.Time
	mu             sync.Mutex
}

func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		limiters:       make(map[string]*limiterEntry),
		limitPerMinute: limitPerMinute,
		lastSweep:      time.Now(),
		now:            time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		rl.sweep(now)
	}

	e, exists := rl.limiters[key]
	if !exists {
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.limitPerMinute)/60, rl.limitPerMinute),
		}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep drops idle buckets. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) >= limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// LoginRateLimit throttles credential guessing per client address.
func (a *App) LoginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.loginLimiter.getLimiter(clientAddr(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests. Headers and bodies are never logged.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		a.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", clientAddr(r)),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Any("request_id", r.Context().Value(ctxKeyRequestID)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
