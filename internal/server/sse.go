package server

import (
	"net/http"
)

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream. The body
// itself is never re-framed here: dispatch.WrapStream and the native-call
// passthrough path both emit already "data: ...\n\n"-encoded bytes, so the
// proxy handler only needs to set headers and copy.
func writeSSEHeaders(w http.ResponseWriter, status int) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(status)
}
