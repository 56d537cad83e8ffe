package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig selects which browser origins may call modules.
type CORSConfig struct {
	// Origins lists allowed origins; "*" allows any and rules out Credentials.
	Origins     []string
	Credentials bool
	MaxAge      time.Duration
}

// Headers a browser may send to a module and read back from it. The trace
// headers are set by the tracing middleware; Retry-After comes with 503
// and 429 responses.
var (
	corsAllowHeaders = []string{
		"Origin",
		"Accept",
		"Accept-Language",
		"Content-Type",
		"Content-Length",
		"Cache-Control",
		"X-Requested-With",
		"X-Request-ID",
		"X-Trace-ID",
		"X-Span-ID",
	}
	corsExposeHeaders = []string{
		"Retry-After",
		"X-Request-ID",
		"X-Trace-ID",
		"X-Span-ID",
	}
	corsMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	}
)

// ErrCORSWildcardCredentials rejects a wildcard origin that also allows
// credentials.
var ErrCORSWildcardCredentials = errors.New("cors: credentials need explicit origins")

// DefaultCORSConfig allows any origin without credentials.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Origins: []string{"*"},
		MaxAge:  12 * time.Hour,
	}
}

// CORS builds the cross-origin middleware, or reports why cfg is unusable.
func CORS(cfg CORSConfig) (gin.HandlerFunc, error) {
	all := len(cfg.Origins) == 0 || slices.Contains(cfg.Origins, "*")
	if all && cfg.Credentials {
		return nil, ErrCORSWildcardCredentials
	}

	cc := cors.Config{
		AllowAllOrigins:  all,
		AllowMethods:     corsMethods,
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    corsExposeHeaders,
		AllowCredentials: cfg.Credentials,
		MaxAge:           cfg.MaxAge,
	}
	if !all {
		cc.AllowOrigins = cfg.Origins
	}
	if err := cc.Validate(); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}
	return cors.New(cc), nil
}
