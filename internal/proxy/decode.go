package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"authgate/edge-service/internal/httputil"
)

type bodyContextKey struct{}

// WithDecodedBody attaches the buffered, validated JSON body to ctx.
func WithDecodedBody(ctx context.Context, body json.RawMessage) context.Context {
	return context.WithValue(ctx, bodyContextKey{}, body)
}

// DecodedBody returns the JSON body captured by DecodeJSONBody, if any.
func DecodedBody(ctx context.Context) (json.RawMessage, bool) {
	body, ok := ctx.Value(bodyContextKey{}).(json.RawMessage)
	return body, ok
}

// DecodeJSONBody buffers the request body of POST and PUT requests, under
// the configured size cap, and parses it as JSON before any upstream call.
// A body that is not valid JSON is terminal for the request: the client
// gets a parse-failure response and the upstream is never contacted.
// Other methods pass through untouched.
func DecodeJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch ParseMethod(r.Method) {
			case MethodPost, MethodPut:
			default:
				next.ServeHTTP(w, r)
				return
			}

			logger := httputil.GetLogger(r.Context())

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			data, err := io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					logger.Warn().Int64("limit", maxBytes).Msg("request body exceeds size limit")
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				logger.Error().Err(err).Msg("failed to read request body")
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}

			var parsed any
			if err := json.Unmarshal(data, &parsed); err != nil {
				logger.Warn().Err(err).Msg("failed to parse JSON body")
				http.Error(w, "failed to parse JSON body", http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecodedBody(r.Context(), json.RawMessage(data))))
		})
	}
}
