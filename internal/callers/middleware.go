package callers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const keyContextKey contextKey = "caller_key"

// FromContext retrieves the authenticated caller key from the request context.
func FromContext(ctx context.Context) (*Key, bool) {
	k, ok := ctx.Value(keyContextKey).(*Key)
	return k, ok
}

// AuthMiddleware returns a chi-compatible middleware that validates caller
// keys and stores the authenticated key in the request context. A nil store
// disables ingress auth entirely (open mode for local deployments).
func AuthMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			secret, ok := bearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "missing or invalid authorization header", "authentication_error", "missing_api_key")
				return
			}
			k, ok := store.Validate(secret)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "invalid, expired, or revoked API key", "authentication_error", "invalid_api_key")
				return
			}
			ctx := context.WithValue(r.Context(), keyContextKey, k)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns a middleware that checks whether the authenticated
// key has at least one of the required scopes. Requests that never passed
// AuthMiddleware (open mode) are allowed through.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, ok := FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			for _, required := range scopes {
				if k.HasScope(required) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteError(w, http.StatusForbidden, "insufficient permissions", "permission_error", "insufficient_scope")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// WriteError writes the OpenAI-compatible JSON error envelope:
//
//	{"error":{"message":"...","type":"...","code":"..."}}
func WriteError(w http.ResponseWriter, status int, message, errType, code string) {
	if errType == "" {
		errType = defaultErrType(status)
	}
	if code == "" {
		code = errType
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

func defaultErrType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}
