// Package classify implements the request classifier: it turns an inbound
// HTTP method, provider-relative path, query, headers, and body into a
// typed gateway.ProxyRequest, or rejects the request with a client error.
//
// Grounded on the teacher's internal/server/native.go route table (the
// per-path-shape dispatch idiom, chi's {model}:{action} wildcard pattern)
// generalized from "route to a hand-written handler" to "produce the
// dispatch planner's typed input," and on internal/dispatch/pipeline.go's
// Translate comment that ModelsList/ModelsGet are dialect-stable, which is why a
// dialect hint is threaded through for the one genuinely ambiguous path
// shape (a bare "models" list/get, which Claude and OpenAI both expose
// verbatim).
package classify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

// Route classifies one inbound request into a gateway.ProxyRequest. path is
// the provider-relative suffix (the URL segment after /{provider}/, no
// leading slash). hint is the registered provider's native dialect, used
// only to disambiguate the bare "models" path shape that both Claude and
// OpenAI expose identically.
func Route(method, path, query string, headers http.Header, body []byte, hint gateway.Dialect) (gateway.ProxyRequest, error) {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	segs := strings.Split(path, "/")

	req := gateway.ProxyRequest{
		Method:  method,
		Path:    path,
		Query:   query,
		Headers: headers,
		Body:    body,
	}

	switch {
	case matchClaudeMessages(segs):
		return classifyClaude(req, segs, body, headers)
	case matchGemini(segs):
		return classifyGemini(req, segs, method)
	case matchOpenAIChat(segs):
		return classifyOpenAIChat(req, body)
	case matchOpenAIResponses(segs):
		return classifyOpenAIResponses(req, body)
	case matchBareModels(segs):
		return classifyBareModels(req, segs, hint)
	default:
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusNotFound, fmt.Sprintf("unrecognized route: %s %s", method, path))
	}
}

// --- path matchers ---

func matchClaudeMessages(segs []string) bool {
	return len(segs) >= 2 && segs[0] == "v1" && segs[1] == "messages"
}

func matchGemini(segs []string) bool {
	if len(segs) != 3 {
		return false
	}
	if segs[0] != "v1" && segs[0] != "v1beta" {
		return false
	}
	return segs[1] == "models" && strings.Contains(segs[2], ":")
}

func matchOpenAIChat(segs []string) bool {
	return len(segs) == 3 && segs[0] == "v1" && segs[1] == "chat" && segs[2] == "completions"
}

func matchOpenAIResponses(segs []string) bool {
	return len(segs) == 2 && segs[0] == "v1" && segs[1] == "responses"
}

func matchBareModels(segs []string) bool {
	if len(segs) == 2 && segs[0] == "v1" && segs[1] == "models" {
		return true
	}
	return len(segs) == 3 && segs[0] == "v1" && segs[1] == "models"
}

// --- classifiers ---

func classifyClaude(req gateway.ProxyRequest, segs []string, body []byte, headers http.Header) (gateway.ProxyRequest, error) {
	req.Dialect = gateway.DialectClaude
	if len(segs) == 3 && segs[2] == "count_tokens" {
		if req.Method != http.MethodPost {
			return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "count_tokens requires POST")
		}
		req.Operation = gateway.OpCountTokens
		req.Model = gjson.GetBytes(body, "model").String()
		return req, nil
	}
	if len(segs) != 2 {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusNotFound, "unrecognized claude messages path")
	}
	if req.Method != http.MethodPost {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "messages requires POST")
	}
	req.Model = gjson.GetBytes(body, "model").String()
	req.Stream = gjson.GetBytes(body, "stream").Bool() || acceptsSSE(headers)
	if req.Stream {
		req.Operation = gateway.OpGenerateStream
	} else {
		req.Operation = gateway.OpGenerate
	}
	return req, nil
}

func classifyGemini(req gateway.ProxyRequest, segs []string, method string) (gateway.ProxyRequest, error) {
	if method != http.MethodPost {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "gemini generate requires POST")
	}
	req.Dialect = gateway.DialectGemini
	if segs[0] == "v1beta" {
		req.GeminiVersion = gateway.GeminiV1Beta
	} else {
		req.GeminiVersion = gateway.GeminiV1
	}
	model, action, ok := strings.Cut(segs[2], ":")
	if !ok || model == "" || action == "" {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusBadRequest, "malformed model:action segment")
	}
	req.Model = model
	switch action {
	case "generateContent":
		req.Operation = gateway.OpGenerate
	case "streamGenerateContent":
		req.Operation = gateway.OpGenerateStream
		req.Stream = true
	case "countTokens":
		req.Operation = gateway.OpCountTokens
	default:
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusNotFound, fmt.Sprintf("unsupported gemini action %q", action))
	}
	return req, nil
}

func classifyOpenAIChat(req gateway.ProxyRequest, body []byte) (gateway.ProxyRequest, error) {
	if req.Method != http.MethodPost {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "chat completions requires POST")
	}
	req.Dialect = gateway.DialectOpenAIChat
	req.Model = gjson.GetBytes(body, "model").String()
	req.Stream = gjson.GetBytes(body, "stream").Bool()
	if req.Stream {
		req.Operation = gateway.OpGenerateStream
	} else {
		req.Operation = gateway.OpGenerate
	}
	return req, nil
}

func classifyOpenAIResponses(req gateway.ProxyRequest, body []byte) (gateway.ProxyRequest, error) {
	if req.Method != http.MethodPost {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "responses requires POST")
	}
	req.Dialect = gateway.DialectOpenAIResponses
	req.Model = gjson.GetBytes(body, "model").String()
	req.Stream = gjson.GetBytes(body, "stream").Bool()
	if req.Stream {
		req.Operation = gateway.OpGenerateStream
	} else {
		req.Operation = gateway.OpGenerate
	}
	return req, nil
}

func classifyBareModels(req gateway.ProxyRequest, segs []string, hint gateway.Dialect) (gateway.ProxyRequest, error) {
	if req.Method != http.MethodGet {
		return gateway.ProxyRequest{}, gateway.NewClientError(http.StatusMethodNotAllowed, "models requires GET")
	}
	req.Dialect = hint
	if req.Dialect == gateway.DialectGemini {
		req.GeminiVersion = gateway.GeminiV1Beta
	}
	if len(segs) == 3 {
		req.Operation = gateway.OpModelsGet
		req.Model = segs[2]
		return req, nil
	}
	req.Operation = gateway.OpModelsList
	return req, nil
}

// acceptsSSE reports whether the client asked for an SSE response via the
// Accept header, the alternate signal to an explicit "stream": true body
// field (Claude's own SDKs set both; this classifier only needs one to be
// true to choose the streaming operation).
func acceptsSSE(headers http.Header) bool {
	return strings.Contains(headers.Get("Accept"), "text/event-stream")
}
