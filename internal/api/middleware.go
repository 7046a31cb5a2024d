package api

import (
	"context"
	"net/http"

	"github.com/justicehub-au/alma-engine/internal/model"
)

const (
	headerActor = "X-Actor"
	headerRole  = "X-Role"
)

type ctxKey int

const callerKey ctxKey = iota

// callerContext resolves the caller's consent context from request headers.
// Unauthenticated requests run as the public role; actual authentication
// happens at the edge proxy, this service only trusts its forwarded
// identity headers.
func (s *Server) callerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := model.Caller{
			Actor: r.Header.Get(headerActor),
			Role:  model.RolePublic,
		}
		if caller.Actor == "" {
			caller.Actor = "anonymous"
		}
		switch model.Role(r.Header.Get(headerRole)) {
		case model.RoleInternal:
			caller.Role = model.RoleInternal
		case model.RoleCommunity:
			caller.Role = model.RoleCommunity
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

func callerFrom(r *http.Request) model.Caller {
	if c, ok := r.Context().Value(callerKey).(model.Caller); ok {
		return c
	}
	return model.Caller{Actor: "anonymous", Role: model.RolePublic}
}

// internalOnly rejects non-internal callers before the handler runs.
// Consent mutations and ledger history are operator surfaces.
func (s *Server) internalOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r).Role != model.RoleInternal {
			writeJSON(w, http.StatusForbidden, errorBody{
				Error: "forbidden",
			})
			return
		}
		next(w, r)
	}
}
