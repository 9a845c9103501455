package middleware

import "net/http"

// BodyLimit caps the request body at maxBytes using http.MaxBytesReader,
// so an oversize JSON body fails the decode with a message the ingest
// handler maps to 413 rather than silently truncating the payload.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
