package dispatch

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

// OpenAI Responses API requests use an "input" array of role/content items
// and a top-level "instructions" string for system guidance, distinct from
// Chat Completions' "messages" array -- see provider/openai for the sibling
// Chat Completions shapes this package does not touch directly.
type responsesRequest struct {
	Model        string          `json:"model"`
	Instructions string          `json:"instructions,omitempty"`
	Input        json.RawMessage `json:"input"`
	Temperature  *float64        `json:"temperature,omitempty"`
	TopP         *float64        `json:"top_p,omitempty"`
	MaxTokens    *int            `json:"max_output_tokens,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
	Tools        json.RawMessage `json:"tools,omitempty"`
}

type responsesInputItem struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// OpenAIResponsesRequestToClaude converts an OpenAI Responses API request
// body into a Claude Messages API request body.
func OpenAIResponsesRequestToClaude(body json.RawMessage) (json.RawMessage, error) {
	var req responsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gateway.NewClientError(400, "invalid openai responses request body")
	}

	out := &claudeRequest{Model: req.Model, MaxTokens: 4096, Temperature: req.Temperature, TopP: req.TopP, Tools: req.Tools}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Instructions != "" {
		sys, _ := json.Marshal(req.Instructions)
		out.System = sys
	}

	var items []responsesInputItem
	if err := json.Unmarshal(req.Input, &items); err == nil {
		for _, it := range items {
			content, _ := json.Marshal(claudeContentText(it.Content))
			out.Messages = append(out.Messages, claudeMessage{Role: it.Role, Content: content})
		}
	} else {
		// A bare string input is shorthand for a single user turn.
		content, _ := json.Marshal(claudeContentText(req.Input))
		out.Messages = append(out.Messages, claudeMessage{Role: "user", Content: content})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// ClaudeResponseToOpenAIResponses converts a Claude Messages API JSON
// response into an OpenAI Responses API response body.
func ClaudeResponseToOpenAIResponses(data json.RawMessage) (json.RawMessage, error) {
	r := gjson.ParseBytes(data)

	var text string
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text += block.Get("text").String()
		}
		return true
	})

	out := map[string]any{
		"id":     r.Get("id").String(),
		"object": "response",
		"model":  r.Get("model").String(),
		"output": []map[string]any{{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{{
				"type": "output_text",
				"text": text,
			}},
		}},
		"status": "completed",
	}
	if u := r.Get("usage"); u.Exists() {
		in := u.Get("input_tokens").Int()
		outTok := u.Get("output_tokens").Int()
		out["usage"] = map[string]any{
			"input_tokens":  in,
			"output_tokens": outTok,
			"total_tokens":  in + outTok,
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// OpenAIResponsesRequestToGemini converts an OpenAI Responses API request
// into a Gemini generateContent request, by pivoting through the Claude
// shape shared with OpenAIResponsesRequestToClaude and reusing
// ClaudeRequestToGemini's field mapping, rather than duplicating it.
func OpenAIResponsesRequestToGemini(body json.RawMessage) (json.RawMessage, string, error) {
	claudeBody, err := OpenAIResponsesRequestToClaude(body)
	if err != nil {
		return nil, "", err
	}
	return ClaudeRequestToGemini(claudeBody)
}

// GeminiResponseToOpenAIResponses converts a Gemini generateContent
// response into an OpenAI Responses API response, pivoting through the
// Claude response shape.
func GeminiResponseToOpenAIResponses(data json.RawMessage, model string) (json.RawMessage, error) {
	claudeBody, err := GeminiResponseToClaude(data, model)
	if err != nil {
		return nil, err
	}
	return ClaudeResponseToOpenAIResponses(claudeBody)
}

// ClaudeRequestToOpenAIResponses converts a Claude Messages API request body
// into an OpenAI Responses API request body, the inverse of
// OpenAIResponsesRequestToClaude.
func ClaudeRequestToOpenAIResponses(body json.RawMessage) (json.RawMessage, error) {
	var req claudeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gateway.NewClientError(400, "invalid claude request body")
	}

	out := &responsesRequest{Model: req.Model, Temperature: req.Temperature, TopP: req.TopP, Tools: req.Tools}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxTokens = &mt
	}
	if len(req.System) > 0 {
		out.Instructions = claudeContentText(req.System)
	}

	items := make([]responsesInputItem, 0, len(req.Messages))
	for _, m := range req.Messages {
		content, _ := json.Marshal(claudeContentText(m.Content))
		items = append(items, responsesInputItem{Role: m.Role, Content: content})
	}
	input, err := json.Marshal(items)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	out.Input = input

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// OpenAIResponsesResponseToClaude converts an OpenAI Responses API JSON
// response into a Claude Messages API response body, the inverse of
// ClaudeResponseToOpenAIResponses.
func OpenAIResponsesResponseToClaude(data json.RawMessage) (json.RawMessage, error) {
	r := gjson.ParseBytes(data)

	var text string
	r.Get("output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "output_text" {
				text += block.Get("text").String()
			}
			return true
		})
		return true
	})

	out := map[string]any{
		"id":          r.Get("id").String(),
		"type":        "message",
		"role":        "assistant",
		"model":       r.Get("model").String(),
		"content":     []map[string]any{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
	}
	if u := r.Get("usage"); u.Exists() {
		out["usage"] = map[string]any{
			"input_tokens":  u.Get("input_tokens").Int(),
			"output_tokens": u.Get("output_tokens").Int(),
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// GeminiRequestToOpenAIResponses converts a Gemini generateContent request
// into an OpenAI Responses API request, pivoting through the Claude shape
// shared with GeminiRequestToClaude, the same pivot pattern
// OpenAIResponsesRequestToGemini uses in the other direction.
func GeminiRequestToOpenAIResponses(body json.RawMessage, model string) (json.RawMessage, error) {
	claudeBody, err := GeminiRequestToClaude(body, model)
	if err != nil {
		return nil, err
	}
	return ClaudeRequestToOpenAIResponses(claudeBody)
}

// OpenAIResponsesResponseToGemini converts an OpenAI Responses API response
// into a Gemini generateContent response, pivoting through the Claude
// response shape shared with GeminiResponseToOpenAIResponses's own pivot.
func OpenAIResponsesResponseToGemini(data json.RawMessage) (json.RawMessage, error) {
	claudeBody, err := OpenAIResponsesResponseToClaude(data)
	if err != nil {
		return nil, err
	}
	return ClaudeResponseToGemini(claudeBody)
}

// --- OpenAI Chat Completions lift ---
//
// OpenAI Chat requests are not one of the six direct transform pairs. A
// provider whose native dialect is not OpenAIChat reaches an OpenAI Chat
// origin request by first lifting it to Claude dialect here, then planning
// normally from Claude -- Chat Completions' messages array is close enough
// to Claude's that lifting is a field rename, not a semantic change.
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
}

// LiftOpenAIChatToClaude converts an OpenAI Chat Completions request body
// into a Claude Messages API request body.
func LiftOpenAIChatToClaude(body json.RawMessage) (json.RawMessage, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gateway.NewClientError(400, "invalid openai chat request body")
	}

	out := &claudeRequest{Model: req.Model, MaxTokens: 4096, Temperature: req.Temperature, TopP: req.TopP, Tools: req.Tools}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// ClaudeResponseToOpenAIChat converts a Claude Messages API JSON response
// into an OpenAI Chat Completions response body, the inverse of
// LiftOpenAIChatToClaude.
func ClaudeResponseToOpenAIChat(data json.RawMessage) (json.RawMessage, error) {
	r := gjson.ParseBytes(data)

	var text string
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text += block.Get("text").String()
		}
		return true
	})
	finish := "stop"
	if r.Get("stop_reason").String() == "max_tokens" {
		finish = "length"
	}

	out := map[string]any{
		"id":      r.Get("id").String(),
		"object":  "chat.completion",
		"model":   r.Get("model").String(),
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": text}, "finish_reason": finish}},
	}
	if u := r.Get("usage"); u.Exists() {
		in := u.Get("input_tokens").Int()
		outTok := u.Get("output_tokens").Int()
		out["usage"] = map[string]any{"prompt_tokens": in, "completion_tokens": outTok, "total_tokens": in + outTok}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}
