// Package middleware holds the gin middleware of the HTTP API.
//
//   - Authenticate: bearer token to appmanager.Caller on the request context
//   - RateLimit: token bucket per caller (or per IP when anonymous)
//   - CORS: cross-origin access through gin-contrib/cors
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.Authenticate(tokens))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
