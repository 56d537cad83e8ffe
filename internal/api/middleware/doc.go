// Package middleware holds the gin middleware mounted in front of the
// request pipeline.
//
//   - CORS: cross-origin resource sharing via gin-contrib/cors
//   - RateLimit: per-IP token buckets; Limiter.Sweep drops idle clients
//   - Recovery: panic recovery with a JSON error body
//
// Example Usage:
//
//	limiter := middleware.NewLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.Recovery(logger), middleware.CORS(middleware.DefaultCORSConfig()), limiter.Middleware())
package middleware
