package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/classify"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// readBody drains r.Body through bodyPool and returns an owned copy, since
// the pooled buffer is reused as soon as this function returns.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bodyPool.Put(buf)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return nil, false
	}
	return bytes.Clone(buf.Bytes()), true
}

// handleProxy is the single generic ingress handler for /{provider}/*: it
// classifies the provider-relative path into a gateway.ProxyRequest, looks
// up the named provider's handle, and runs the credential pool's attempt
// loop against the provider's Call. The pool, dispatch planner, and each
// native adapter already own translation, streaming, and traffic recording
// (see internal/provider/native.go); this handler's only job is classify,
// cache, dispatch, and write the response back to the caller.
func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	path := chi.URLParam(r, "*")

	handle, err := s.deps.Registry.Get(providerName)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown provider"))
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := classify.Route(r.Method, path, r.URL.RawQuery, r.Header, body, handle.Dialect)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	req.Provider = providerName

	identity := gateway.IdentityFromContext(r.Context())

	var key string
	cacheable := s.deps.Cache != nil && isCacheable(req)
	if cacheable {
		key = cacheKey(identity, providerName, req)
		if data, ok := s.deps.Cache.Get(r.Context(), key); ok {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheHits.Inc()
			}
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheMisses.Inc()
		}
	}

	cc := gateway.CallContext{
		TraceID:   gateway.RequestIDFromContext(r.Context()),
		RequestID: gateway.RequestIDFromContext(r.Context()),
	}
	if identity != nil {
		cc.UserID = identity.UserID
		cc.KeyID = identity.KeyID
	}
	if s.deps.Sink != nil {
		cc.Traffic = s.deps.Sink
		cc.State = s.deps.Sink
	}

	resp, err := handle.Pool.Execute(r.Context(), scopeFor(req), func(ctx context.Context, cred gateway.Credential) (gateway.ProxyResponse, error) {
		return handle.Provider.Call(ctx, cc, cred, req)
	})
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	if resp.IsStream() {
		s.writeStreamResponse(w, resp)
		return
	}

	if cacheable && resp.Status == http.StatusOK {
		s.deps.Cache.Set(r.Context(), key, resp.Body, s.cacheTTL())
	}

	writePassthroughHeaders(w, resp.Headers)
	ct := resp.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// scopeFor returns the disallow scope a failed attempt against req should be
// marked at: the resolved model when known, all models otherwise.
func scopeFor(req gateway.ProxyRequest) gateway.Scope {
	if req.Model == "" {
		return gateway.AllModels()
	}
	return gateway.ModelScope(req.Model)
}

// hopByHop headers are stripped from a passthrough response: they describe
// the upstream connection, not the one to our caller.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Content-Type":        true, // set explicitly by the caller afterward
}

func writePassthroughHeaders(w http.ResponseWriter, h http.Header) {
	dst := w.Header()
	for k, v := range h {
		if hopByHop[k] {
			continue
		}
		dst[k] = v
	}
}

// writeStreamResponse copies resp.Stream to w, flushing after every read.
// The stream's bytes are already wire-framed by the provider/dispatch layer
// (SSE "data: ...\n\n" frames, or the native upstream's own framing for a
// passthrough stream) -- this is a byte copy, never a re-encode.
func (s *server) writeStreamResponse(w http.ResponseWriter, resp gateway.ProxyResponse) {
	defer resp.Stream.Close()

	ct := resp.ContentType
	if ct == "" {
		ct = "text/event-stream"
	}
	if strings.Contains(ct, "event-stream") {
		writeSSEHeaders(w, resp.Status)
	} else {
		writePassthroughHeaders(w, resp.Headers)
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(resp.Status)
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// cacheTTL returns the response cache TTL. A fixed default: per-route TTL
// tuning had no home once routing stopped being a separate model-alias
// concept (see DESIGN.md).
func (s *server) cacheTTL() time.Duration {
	if s.deps.CacheTTL > 0 {
		return s.deps.CacheTTL
	}
	return 5 * time.Minute
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// writeUpstreamError logs the full error server-side and returns a sanitized
// message to the client. Both 4xx and 5xx responses use generic status text
// to avoid leaking upstream provider internals (URLs, org IDs, quota details).
func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelError, "upstream error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse(http.StatusText(status)))
}

// errorStatus resolves err's wire status. A *gateway.GatewayError carries its
// own status; sentinels not wrapped in one fall back to a fixed mapping.
func errorStatus(err error) int {
	var ge *gateway.GatewayError
	if errors.As(err, &ge) {
		return ge.Status
	}
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrForbidden), errors.Is(err, gateway.ErrKeyDisabled):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, gateway.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoCredentialsAvailable), errors.Is(err, gateway.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
