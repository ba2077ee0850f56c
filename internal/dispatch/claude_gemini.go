package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

// --- wire shapes, mirrored from provider/anthropic and provider/gemini's
// translate.go, trimmed to the fields a gateway actually needs to shuttle
// rather than fully model either API. ---

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	StopSeqs    json.RawMessage `json:"stop_sequences,omitempty"`
}

type geminiContentPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     json.RawMessage `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string              `json:"role,omitempty"`
	Parts []geminiContentPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   json.RawMessage `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             json.RawMessage         `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// ClaudeRequestToGemini converts a Claude Messages API request body into a
// Gemini generateContent request body. Grounded on provider/gemini's
// translateRequest, repointed from an OpenAI-canonical source to Claude.
func ClaudeRequestToGemini(body json.RawMessage) (json.RawMessage, string, error) {
	var req claudeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", gateway.NewClientError(400, "invalid claude request body")
	}

	out := &geminiRequest{}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens > 0 || len(req.StopSeqs) > 0 {
		maxTok := req.MaxTokens
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: &maxTok,
			StopSequences:   req.StopSeqs,
		}
	}
	out.Tools = req.Tools

	if len(req.System) > 0 {
		out.SystemInstruction = &geminiContent{Parts: []geminiContentPart{{Text: claudeContentText(req.System)}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{
			Role:  role,
			Parts: claudeContentToParts(m.Content),
		})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, "", gateway.NewTransformError(err)
	}
	return raw, req.Model, nil
}

// GeminiResponseToClaude converts a Gemini generateContent JSON response
// into a Claude Messages API response body.
func GeminiResponseToClaude(data json.RawMessage, model string) (json.RawMessage, error) {
	r := gjson.ParseBytes(data)

	var blocks []map[string]any
	var stopReason string
	r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			blocks = append(blocks, map[string]any{"type": "text", "text": t.String()})
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    fc.Get("name").String(),
				"name":  fc.Get("name").String(),
				"input": json.RawMessage(fc.Get("args").Raw),
			})
		}
		return true
	})
	switch r.Get("candidates.0.finishReason").String() {
	case "STOP":
		stopReason = "end_turn"
	case "MAX_TOKENS":
		stopReason = "max_tokens"
	default:
		stopReason = "end_turn"
	}

	out := map[string]any{
		"id":          "gemini-" + model,
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     blocks,
		"stop_reason": stopReason,
	}
	if u := r.Get("usageMetadata"); u.Exists() {
		out["usage"] = map[string]any{
			"input_tokens":  u.Get("promptTokenCount").Int(),
			"output_tokens": u.Get("candidatesTokenCount").Int(),
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// GeminiRequestToClaude converts a Gemini generateContent request body into
// a Claude Messages API request body.
func GeminiRequestToClaude(body json.RawMessage, model string) (json.RawMessage, error) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, gateway.NewClientError(400, "invalid gemini request body")
	}

	out := &claudeRequest{Model: model, MaxTokens: 4096}
	if req.GenerationConfig != nil {
		out.Temperature = req.GenerationConfig.Temperature
		out.TopP = req.GenerationConfig.TopP
		if req.GenerationConfig.MaxOutputTokens != nil {
			out.MaxTokens = *req.GenerationConfig.MaxOutputTokens
		}
		out.StopSeqs = req.GenerationConfig.StopSequences
	}
	out.Tools = req.Tools
	if req.SystemInstruction != nil {
		out.System = json.RawMessage(`"` + escapeJSON(partsText(req.SystemInstruction.Parts)) + `"`)
	}
	for _, c := range req.Contents {
		role := "user"
		if c.Role == "model" {
			role = "assistant"
		}
		text := partsText(c.Parts)
		content, _ := json.Marshal(text)
		out.Messages = append(out.Messages, claudeMessage{Role: role, Content: content})
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

// ClaudeResponseToGemini converts a Claude Messages API JSON response into a
// Gemini generateContent response body.
func ClaudeResponseToGemini(data json.RawMessage) (json.RawMessage, error) {
	r := gjson.ParseBytes(data)

	var parts []map[string]any
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": block.Get("text").String()})
		case "tool_use":
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{
					"name": block.Get("name").String(),
					"args": json.RawMessage(block.Get("input").Raw),
				},
			})
		}
		return true
	})

	finish := "STOP"
	if r.Get("stop_reason").String() == "max_tokens" {
		finish = "MAX_TOKENS"
	}

	out := map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": finish,
		}},
	}
	if u := r.Get("usage"); u.Exists() {
		in := u.Get("input_tokens").Int()
		outTok := u.Get("output_tokens").Int()
		out["usageMetadata"] = map[string]any{
			"promptTokenCount":     in,
			"candidatesTokenCount": outTok,
			"totalTokenCount":      in + outTok,
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, gateway.NewTransformError(err)
	}
	return raw, nil
}

func claudeContentText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func claudeContentToParts(raw json.RawMessage) []geminiContentPart {
	if s := claudeContentText(raw); s != "" || looksLikeJSONString(raw) {
		return []geminiContentPart{{Text: s}}
	}
	// Structured content blocks: pull text blocks only, tool_use/tool_result
	// blocks are out of scope for this trimmed shuttle.
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		var b strings.Builder
		for _, blk := range blocks {
			if blk.Type == "text" {
				b.WriteString(blk.Text)
			}
		}
		return []geminiContentPart{{Text: b.String()}}
	}
	return []geminiContentPart{{Text: string(raw)}}
}

func looksLikeJSONString(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '"'
}

func partsText(parts []geminiContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func escapeJSON(s string) string {
	b, _ := json.Marshal(s)
	// b is a quoted JSON string; strip the surrounding quotes since the
	// caller wraps its own.
	if len(b) >= 2 {
		return string(b[1 : len(b)-1])
	}
	return s
}
