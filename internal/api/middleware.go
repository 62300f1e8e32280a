/**
 * @description
 * This file contains custom middleware for the HTTP router: the internal API
 * key gate for service-to-service endpoints, and the Redis-backed rate limit
 * applied to the unauthenticated public-link surface.
 *
 * @dependencies
 * - crypto/subtle, net, net/http, strings: Standard Go libraries.
 * - internal/app: For the Redis rate limiter.
 */

package api

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/clubledger/billing-service/internal/app"
)

// InternalAuthMiddleware guards service-to-service endpoints with a shared
// API key carried in the X-Internal-API-Key header.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	trimmedKey := strings.TrimSpace(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trimmedKey == "" {
				http.Error(w, "Internal API key not configured", http.StatusServiceUnavailable)
				return
			}
			provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(trimmedKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PublicRateLimitMiddleware applies a per-client-IP fixed window limit to the
// public endpoints. A nil limiter disables limiting; limiter errors fail open
// so a Redis outage never takes the public surface down with it.
func PublicRateLimitMiddleware(limiter *app.RedisPublicRateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			subject := clientIP(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), "public_links", subject, limit, window)
			if err != nil {
				log.Printf("level=warn component=api op=rate_limit msg=\"limiter unavailable, failing open\" err=%v", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller's address, honoring X-Forwarded-For when a
// proxy sits in front.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
