package httpmw

import (
	"errors"
	"net/http"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody int64 = 1 << 20

// MaxBody limits request body size. Handlers see a *http.MaxBytesError from
// the body reader once the limit is crossed; see IsBodyTooLarge.
func MaxBody(n int64) func(http.Handler) http.Handler {
	if n <= 0 {
		n = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// IsBodyTooLarge reports whether err came from a MaxBody-limited reader.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
