// Package proxy is the forwarding engine: it relays authorized requests to
// one of two upstream targets, applying the header policy and streaming
// the upstream response back to the caller.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authgate/edge-service/internal/config"
	"authgate/edge-service/internal/httputil"
	"authgate/edge-service/internal/metrics"
)

// Target selects which upstream a request is relayed to. The routing rule
// is static: /api/* goes to the API target, everything else to the UI.
type Target int

const (
	TargetAPI Target = iota
	TargetUI
)

func (t Target) String() string {
	if t == TargetAPI {
		return "api"
	}
	return "ui"
}

// TargetFor returns the upstream target for a request path.
func TargetFor(path string) Target {
	if path == "/api" || strings.HasPrefix(path, "/api/") {
		return TargetAPI
	}
	return TargetUI
}

// Method is the closed set of methods the engine forwards. Anything else
// is Unsupported and is answered with 405 without contacting the upstream.
type Method int

const (
	MethodGet Method = iota
	MethodHead
	MethodOptions
	MethodDelete
	MethodPost
	MethodPut
	MethodUnsupported
)

func ParseMethod(s string) Method {
	switch s {
	case http.MethodGet:
		return MethodGet
	case http.MethodHead:
		return MethodHead
	case http.MethodOptions:
		return MethodOptions
	case http.MethodDelete:
		return MethodDelete
	case http.MethodPost:
		return MethodPost
	case http.MethodPut:
		return MethodPut
	default:
		return MethodUnsupported
	}
}

// Forwarder relays requests to the API and UI upstream base URLs over a
// shared tuned transport.
type Forwarder struct {
	api    string
	ui     string
	client *http.Client
}

func NewForwarder(cfg *config.Config) (*Forwarder, error) {
	for _, raw := range []string{cfg.Upstreams.API, cfg.Upstreams.UI} {
		if _, err := url.Parse(raw); err != nil {
			return nil, err
		}
	}

	timeout := cfg.UpstreamTimeout()
	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstreams.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstreams.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout / 3,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}

	return &Forwarder{
		api:    strings.TrimSuffix(cfg.Upstreams.API, "/"),
		ui:     strings.TrimSuffix(cfg.Upstreams.UI, "/"),
		client: &http.Client{
			Transport: transport,
			// Redirects are relayed to the caller, not followed here.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Handler returns an http.Handler forwarding every request to target.
func (f *Forwarder) Handler(target Target) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.Forward(w, r, target)
	})
}

// Forward relays one request to target and pipes the upstream response
// back, applying the header policy and the login Location rewrite.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, target Target) {
	logger := httputil.GetLogger(r.Context())
	method := ParseMethod(r.Method)

	base := f.ui
	if target == TargetAPI {
		base = f.api
	}
	outURL := base + r.URL.RequestURI()

	var body io.Reader
	switch method {
	case MethodGet, MethodHead, MethodOptions, MethodDelete:
		// forwarded with no body
	case MethodPost, MethodPut:
		// Re-serialize the JSON body buffered and parsed by the decode
		// step; DecodeJSONBody guarantees it marshals.
		if payload, ok := DecodedBody(r.Context()); ok {
			body = bytes.NewReader(payload)
		}
	case MethodUnsupported:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL, body)
	if err != nil {
		logger.Error().Err(err).Str("url", outURL).Msg("failed to build upstream request")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	out.Header = TransformHeaders(r.Header)
	if body != nil {
		out.Header.Set("Content-Type", "application/json")
	}

	logger.Info().Str("url", r.URL.RequestURI()).Str("target", outURL).Msg("forwarding")
	metrics.ForwardedRequests.WithLabelValues(target.String(), r.Method).Inc()

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		f.handleTransportError(w, r, target, err)
		return
	}
	defer resp.Body.Close()
	metrics.ForwardDuration.WithLabelValues(target.String()).Observe(time.Since(start).Seconds())

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	// The rewrite must land before any byte of the response is flushed.
	if method == MethodPost && strings.HasPrefix(r.URL.Path, "/login") {
		RewriteLoginLocation(header)
	}
	w.WriteHeader(resp.StatusCode)

	if err := pipe(w, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg("response stream interrupted")
	}
}

// handleTransportError maps upstream call failures onto client responses:
// canceled clients are abandoned silently, timeouts are 504, everything
// else is 502. A failed forward never crashes the process.
func (f *Forwarder) handleTransportError(w http.ResponseWriter, r *http.Request, target Target, err error) {
	logger := httputil.GetLogger(r.Context())

	if errors.Is(err, context.Canceled) {
		logger.Debug().Str("target", target.String()).Msg("forward canceled by client")
		metrics.ForwardErrors.WithLabelValues(target.String(), "canceled").Inc()
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logger.Warn().Str("target", target.String()).Err(err).Msg("upstream timeout")
		metrics.ForwardErrors.WithLabelValues(target.String(), "timeout").Inc()
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
		return
	}

	logger.Error().Str("target", target.String()).Err(err).Msg("upstream unreachable")
	metrics.ForwardErrors.WithLabelValues(target.String(), "transport").Inc()
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

// TransformHeaders produces the outbound header map: copy everything, drop
// Host (it must reflect the upstream, not the edge), inject the wildcard
// CORS header. The inbound map is never mutated.
func TransformHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in)+1)
	for k, vv := range in {
		out[k] = append([]string(nil), vv...)
	}
	out.Del("Host")
	out.Set("Access-Control-Allow-Origin", "*")
	return out
}

// RewriteLoginLocation normalizes the Location header of a forwarded login
// response to the two outcomes the client recognizes: /login?error when
// the upstream flagged an error, / otherwise. The upstream's actual
// redirect target never leaks past the edge.
func RewriteLoginLocation(h http.Header) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}
	if strings.Contains(loc, "?error") {
		h.Set("Location", "/login?error")
	} else {
		h.Set("Location", "/")
	}
}

// pipe streams src to the client, flushing after every chunk so the first
// bytes reach the caller before the upstream finishes sending.
func pipe(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			rc.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
