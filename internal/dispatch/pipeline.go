package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/provider/sseutil"
)

// Translate rewrites req's body and operation target according to plan, for
// the unary (non-streaming) JSON -> JSON operations: GenerateContent and
// CountTokens. ModelsList and ModelsGet carry no body to translate across
// these transform pairs -- their catalog shape is dialect-stable enough that the
// registry forwards them as a native passthrough regardless of plan, so
// Translate is only ever called for Generate/GenerateStream/CountTokens.
func Translate(plan TransformPlan, req gateway.ProxyRequest) (gateway.ProxyRequest, error) {
	out := req
	var err error
	switch plan.Kind {
	case Claude2Gemini:
		out.Body, _, err = ClaudeRequestToGemini(req.Body)
	case Gemini2Claude:
		out.Body, err = GeminiRequestToClaude(req.Body, req.Model)
	case OpenAIResponses2Claude:
		out.Body, err = OpenAIResponsesRequestToClaude(req.Body)
	case OpenAIResponses2Gemini:
		out.Body, _, err = OpenAIResponsesRequestToGemini(req.Body)
	case Claude2OpenAIResponses:
		out.Body, err = ClaudeRequestToOpenAIResponses(req.Body)
	case Gemini2OpenAIResponses:
		out.Body, err = GeminiRequestToOpenAIResponses(req.Body, req.Model)
	}
	if err != nil {
		return gateway.ProxyRequest{}, err
	}
	out.Dialect = targetDialect(plan.Kind)
	return out, nil
}

// targetDialect returns the dialect a TransformKind translates into.
func targetDialect(k TransformKind) gateway.Dialect {
	switch k {
	case Claude2Gemini, OpenAIResponses2Gemini:
		return gateway.DialectGemini
	case Gemini2Claude, OpenAIResponses2Claude:
		return gateway.DialectClaude
	case Claude2OpenAIResponses, Gemini2OpenAIResponses:
		return gateway.DialectOpenAIResponses
	default:
		return gateway.DialectClaude
	}
}

// TranslateResponse rewrites a unary upstream response body back to the
// plan's origin dialect.
func TranslateResponse(plan TransformPlan, origin gateway.Dialect, body json.RawMessage, model string) (json.RawMessage, error) {
	switch plan.Kind {
	case Claude2Gemini:
		return GeminiResponseToClaude(body, model)
	case Gemini2Claude:
		return ClaudeResponseToGemini(body)
	case OpenAIResponses2Claude:
		if origin == gateway.DialectOpenAIChat {
			return ClaudeResponseToOpenAIChat(body)
		}
		return ClaudeResponseToOpenAIResponses(body)
	case OpenAIResponses2Gemini:
		return GeminiResponseToOpenAIResponses(body, model)
	case Claude2OpenAIResponses:
		return OpenAIResponsesResponseToClaude(body)
	case Gemini2OpenAIResponses:
		return OpenAIResponsesResponseToGemini(body)
	default:
		return body, nil
	}
}

// WrapStream drives the single background actor that both translates an
// upstream SSE/NDJSON stream in real time and records the upstream traffic
// event once the stream closes. Grounded on original_source's
// dispatch/record.rs record_upstream_and_downstream: one task reads the
// upstream body to completion, feeding a per-kind state machine, and emits
// exactly one traffic event at end-of-stream carrying the accumulated body
// and usage -- reimplemented here as a goroutine writing into an io.Pipe so
// the caller can stream the translated bytes onward immediately rather than
// buffering the whole response.
func WrapStream(plan TransformPlan, upstream io.ReadCloser, model, id string, meta gateway.UpstreamRecordMeta, traceID string, sink gateway.TrafficSink) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		defer upstream.Close()
		var accumulated bytes.Buffer
		var usage *gateway.TrafficUsage

		scanner := sseutil.NewScanner(upstream)
		switch plan.Kind {
		case Claude2Gemini:
			// Upstream here is the Gemini-native endpoint (targetDialect
			// of Claude2Gemini is Gemini): each "data:" line is a complete
			// Gemini chunk, translated back into Claude-dialect frames for
			// the caller.
			state := NewGeminiToClaudeStream(id, model)
			for scanner.Scan() {
				_, data, ok := sseutil.ParseSSELine(scanner.Text())
				if !ok || data == "" {
					continue
				}
				for _, f := range state.HandleChunk(data) {
					if f.Done {
						continue
					}
					b := EncodeSSE(f)
					accumulated.Write(b)
					pw.Write(b)
				}
			}
			usage = state.Usage()

		case Gemini2Claude, OpenAIResponses2Claude:
			// Upstream here is the Claude-native endpoint (targetDialect
			// of both kinds is Claude): named SSE events, translated back
			// into Gemini-dialect frames for the caller.
			state := NewClaudeToGeminiStream()
			var currentEvent string
			for scanner.Scan() {
				event, data, ok := sseutil.ParseSSELine(scanner.Text())
				if !ok {
					continue
				}
				if event != "" {
					currentEvent = event
					continue
				}
				if data == "" {
					continue
				}
				for _, f := range state.HandleEvent(currentEvent, data) {
					if f.Done {
						continue
					}
					b := EncodeSSE(f)
					accumulated.Write(b)
					pw.Write(b)
				}
				currentEvent = ""
			}
			usage = state.Usage()

		default:
			// OpenAIResponses2Gemini, Claude2OpenAIResponses, and
			// Gemini2OpenAIResponses all land here: none has a bespoke
			// chunk-by-chunk translating state machine. Streaming output for
			// all three is out of scope for the initial cut -- only the
			// unary path runs the real translation, via TranslateResponse
			// after EOF -- so this case just re-wraps whatever upstream SSE
			// frames arrive as-is without a dialect rewrite.
			for scanner.Scan() {
				_, data, ok := sseutil.ParseSSELine(scanner.Text())
				if !ok || data == "" {
					continue
				}
				b := EncodeSSE(StreamFrame{Data: []byte(data)})
				accumulated.Write(b)
				pw.Write(b)
			}
		}

		if sink != nil {
			sink.RecordUpstream(gateway.UpstreamTrafficEvent{
				TraceID:    traceID,
				Meta:       meta,
				Status:     200,
				Body:       accumulated.Bytes(),
				Streamed:   true,
				Usage:      usage,
				OccurredAt: time.Now(),
			})
		}
		pw.Close()
	}()

	return pr
}
