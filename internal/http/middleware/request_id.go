package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader carries the request ID on both request and response.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength caps client-supplied IDs so log lines stay bounded.
const maxRequestIDLength = 64

// RequestID tags every request with an ID: a well-formed client-supplied
// X-Request-ID is reused, anything else gets a fresh UUID. The ID is
// echoed on the response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := clientRequestID(r)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientRequestID returns the inbound X-Request-ID when it is usable,
// rejecting empty, oversized, or whitespace-bearing values.
func clientRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, " \t") {
		return ""
	}
	return id
}

// GetRequestID extracts the request ID, or "" outside the middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
