package auth

import (
	"net/http"
	"time"

	"authgate/edge-service/internal/httputil"
	"authgate/edge-service/internal/metrics"
	"authgate/edge-service/internal/session"
)

// RequireSession is the authentication gate. Requests lacking a session
// with a principal are redirected to the login page; the gate never
// creates or mutates principals. When authentication is disabled every
// request passes.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.disabled {
			metrics.GateDecision.WithLabelValues("allow").Inc()
			next.ServeHTTP(w, r)
			return
		}

		sess := h.currentSession(r)
		if !sess.Authenticated() {
			metrics.GateDecision.WithLabelValues("deny").Inc()
			// Browser navigations degrade to the login form instead of a
			// raw 401 body.
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		sess.LastSeen = time.Now()
		if err := h.sessions.Save(r.Context(), sess); err != nil {
			httputil.GetLogger(r.Context()).Error().Err(err).Msg("failed to touch session")
		}

		metrics.GateDecision.WithLabelValues("allow").Inc()
		next.ServeHTTP(w, r)
	})
}

// currentSession resolves the request's session cookie to a store record.
// Returns nil when there is no valid cookie or no matching record.
func (h *Handler) currentSession(r *http.Request) *session.Session {
	token, ok := h.codec.TokenFromRequest(r)
	if !ok {
		return nil
	}
	sess, err := h.sessions.Get(r.Context(), token)
	if err != nil {
		return nil
	}
	return sess
}
