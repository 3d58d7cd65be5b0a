package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/shelfmark/shelfmark/pkg/composables"
)

const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
)

// TenantFromHeader resolves the tenant and actor for the request. Session
// handling lives in the gateway in front of this service; by the time a
// request arrives here the gateway has already authenticated it and stamped
// the ids onto headers.
func TenantFromHeader() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := r.Header.Get(TenantHeader); raw != "" {
				if tenantID, err := uuid.Parse(raw); err == nil {
					ctx = composables.WithTenantID(ctx, tenantID)
				} else {
					http.Error(w, "invalid "+TenantHeader, http.StatusBadRequest)
					return
				}
			}
			if raw := r.Header.Get(ActorHeader); raw != "" {
				if actorID, err := uuid.Parse(raw); err == nil {
					ctx = composables.WithActorID(ctx, actorID)
				} else {
					http.Error(w, "invalid "+ActorHeader, http.StatusBadRequest)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant rejects requests that did not resolve a tenant.
func RequireTenant() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := composables.UseTenantID(r.Context()); err != nil {
				http.Error(w, TenantHeader+" header is required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
