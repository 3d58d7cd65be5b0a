package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type RateLimitConfig struct {
	RequestsPerPeriod int
	Store             limiter.Store
}

// NewMemoryStore returns an in-process rate limit store.
func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// RateLimit limits requests per client IP over a one second period.
func RateLimit(config RateLimitConfig) mux.MiddlewareFunc {
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	rate := limiter.Rate{
		Period: time.Second,
		Limit:  int64(config.RequestsPerPeriod),
	}
	instance := limiter.New(store, rate)
	wrapped := mhttp.NewMiddleware(instance)
	return func(next http.Handler) http.Handler {
		return wrapped.Handler(next)
	}
}
