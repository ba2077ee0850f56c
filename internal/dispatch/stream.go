package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

// StreamFrame is one SSE frame a stream state machine wants written to the
// caller: event is empty for a bare "data:" line (Gemini's style), set for
// a named event (Claude's style).
type StreamFrame struct {
	Event string
	Data  []byte
	Done  bool
}

// ClaudeToGeminiStream translates Claude SSE events into Gemini-dialect
// stream frames. Grounded on provider/anthropic/stream.go's streamState /
// handleEvent shape, repointed from an OpenAI-chunk target to Gemini's
// streamGenerateContent chunk shape.
type ClaudeToGeminiStream struct {
	model        string
	inputTokens  int64
	outputTokens int64
}

func NewClaudeToGeminiStream() *ClaudeToGeminiStream { return &ClaudeToGeminiStream{} }

// HandleEvent processes one Claude SSE event (event name + data payload) and
// returns zero or more Gemini-dialect frames to emit downstream.
func (s *ClaudeToGeminiStream) HandleEvent(event, data string) []StreamFrame {
	r := gjson.Parse(data)
	switch event {
	case "message_start":
		s.model = r.Get("message.model").String()
		s.inputTokens = r.Get("message.usage.input_tokens").Int()
		return nil

	case "content_block_delta":
		if r.Get("delta.type").String() != "text_delta" {
			return nil
		}
		text := r.Get("delta.text").String()
		chunk := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
			}},
		}
		b, _ := json.Marshal(chunk)
		return []StreamFrame{{Data: b}}

	case "message_delta":
		s.outputTokens = r.Get("usage.output_tokens").Int()
		return nil

	case "message_stop":
		chunk := map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     s.inputTokens,
				"candidatesTokenCount": s.outputTokens,
				"totalTokenCount":      s.inputTokens + s.outputTokens,
			},
		}
		b, _ := json.Marshal(chunk)
		return []StreamFrame{{Data: b}, {Done: true}}

	default:
		return nil
	}
}

// Usage returns the running token tally, valid once message_stop has run.
func (s *ClaudeToGeminiStream) Usage() *gateway.TrafficUsage {
	return &gateway.TrafficUsage{
		ClaudeInputTokens:  i64(s.inputTokens),
		ClaudeOutputTokens: i64(s.outputTokens),
	}
}

// GeminiToClaudeStream translates Gemini stream chunks (each a complete
// JSON object delivered as one SSE "data:" frame) into Claude SSE events.
// The inverse direction of ClaudeToGeminiStream.
type GeminiToClaudeStream struct {
	id      string
	model   string
	started bool
	prompt  int64
	output  int64
}

func NewGeminiToClaudeStream(id, model string) *GeminiToClaudeStream {
	return &GeminiToClaudeStream{id: id, model: model}
}

// HandleChunk processes one Gemini streamGenerateContent JSON chunk and
// returns zero or more Claude SSE events to emit downstream.
func (s *GeminiToClaudeStream) HandleChunk(data string) []StreamFrame {
	r := gjson.Parse(data)
	var frames []StreamFrame

	if !s.started {
		s.started = true
		start := map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": s.id, "type": "message", "role": "assistant", "model": s.model,
				"content": []any{}, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}
		b, _ := json.Marshal(start)
		frames = append(frames, StreamFrame{Event: "message_start", Data: b})
	}

	text := r.Get("candidates.0.content.parts.0.text").String()
	if text != "" {
		delta := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}
		b, _ := json.Marshal(delta)
		frames = append(frames, StreamFrame{Event: "content_block_delta", Data: b})
	}

	if u := r.Get("usageMetadata"); u.Exists() {
		s.prompt = u.Get("promptTokenCount").Int()
		s.output = u.Get("candidatesTokenCount").Int()
	}

	if fr := r.Get("candidates.0.finishReason"); fr.Exists() {
		stopReason := "end_turn"
		if fr.String() == "MAX_TOKENS" {
			stopReason = "max_tokens"
		}
		delta := map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReason},
			"usage": map[string]any{"output_tokens": s.output},
		}
		b, _ := json.Marshal(delta)
		stop := map[string]any{"type": "message_stop"}
		sb, _ := json.Marshal(stop)
		frames = append(frames,
			StreamFrame{Event: "message_delta", Data: b},
			StreamFrame{Event: "message_stop", Data: sb},
			StreamFrame{Done: true},
		)
	}
	return frames
}

func (s *GeminiToClaudeStream) Usage() *gateway.TrafficUsage {
	return &gateway.TrafficUsage{
		GeminiPromptTokens:     i64(s.prompt),
		GeminiCandidatesTokens: i64(s.output),
	}
}

// EncodeSSE renders a StreamFrame as wire bytes for whichever dialect
// convention the target expects: Claude's "event: NAME\ndata: ...\n\n", or
// Gemini's bare "data: ...\n\n".
func EncodeSSE(f StreamFrame) []byte {
	if f.Event != "" {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Event, f.Data))
	}
	return []byte(fmt.Sprintf("data: %s\n\n", f.Data))
}
