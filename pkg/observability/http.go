package observability

import "net/http"

// ExtractMiddleware returns a middleware placing the remote parent span found
// in the inbound request headers into the request context, so spans started
// further down the chain join the caller's trace.
func ExtractMiddleware(e Extractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(e.Extract(r)))
		})
	}
}

// EnabledTransport returns a RoundTripper sending requests whose context has
// tracing disabled through plain, and all others through traced.
func EnabledTransport(traced, plain http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if IsEnabled(r.Context()) {
			return traced.RoundTrip(r)
		}
		return plain.RoundTrip(r)
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
