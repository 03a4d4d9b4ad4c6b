package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/gofr-lab/gplot/pkg/auth"
)

type contextKey string

const groupKey contextKey = "group"

// GroupFromContext returns the caller's group as set by GroupMiddleware.
// A nil group means an anonymous (public) caller.
func GroupFromContext(ctx context.Context) *string {
	group, _ := ctx.Value(groupKey).(*string)
	return group
}

// GroupMiddleware extracts and verifies the bearer token and stashes the
// group claim in the request context. When allowAnonymous is true, requests
// without a token proceed with a nil group; invalid tokens are rejected
// either way.
func GroupMiddleware(authService *auth.Service, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				if !allowAnonymous {
					writeError(w, r, http.StatusUnauthorized, "authentication required")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), groupKey, (*string)(nil))))
				return
			}

			info, err := authService.VerifyToken(tokenString)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}

			group := info.Group
			ctx := context.WithValue(r.Context(), groupKey, &group)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("token")
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
