package trace

import "net/http"

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace id back so clients can correlate server logs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func extractFromHeaders(r *http.Request) Context {
	return FromMap(map[string]string{
		TraceIDKey: r.Header.Get(TraceIDKey),
		SpanIDKey:  r.Header.Get(SpanIDKey),
	})
}
