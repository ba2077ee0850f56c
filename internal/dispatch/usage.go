package dispatch

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	gateway "github.com/leenhawk/gproxy/internal"
)

func i64(v int64) *int64 { return &v }

// ExtractUsage reads the dialect-native token counters out of a unary
// response body (or, for streams, the final accumulated body handed in by
// the streaming state machine's Usage() method) according to kind.
func ExtractUsage(kind UsageKind, body json.RawMessage) *gateway.TrafficUsage {
	if len(body) == 0 {
		return nil
	}
	r := gjson.ParseBytes(body)

	switch kind {
	case UsageClaudeMessage:
		u := r.Get("usage")
		if !u.Exists() {
			return nil
		}
		out := &gateway.TrafficUsage{
			ClaudeInputTokens:  i64(u.Get("input_tokens").Int()),
			ClaudeOutputTokens: i64(u.Get("output_tokens").Int()),
		}
		if v := u.Get("cache_read_input_tokens"); v.Exists() {
			out.ClaudeCacheReadTokens = i64(v.Int())
		}
		if v := u.Get("cache_creation_input_tokens"); v.Exists() {
			out.ClaudeCacheWriteTokens = i64(v.Int())
		}
		return out

	case UsageGeminiGenerate:
		u := r.Get("usageMetadata")
		if !u.Exists() {
			return nil
		}
		out := &gateway.TrafficUsage{
			GeminiPromptTokens:     i64(u.Get("promptTokenCount").Int()),
			GeminiCandidatesTokens: i64(u.Get("candidatesTokenCount").Int()),
		}
		if v := u.Get("cachedContentTokenCount"); v.Exists() {
			out.GeminiCachedTokens = i64(v.Int())
		}
		return out

	case UsageOpenAIChat:
		u := r.Get("usage")
		if !u.Exists() {
			return nil
		}
		return &gateway.TrafficUsage{
			OpenAIChatPromptTokens:     i64(u.Get("prompt_tokens").Int()),
			OpenAIChatCompletionTokens: i64(u.Get("completion_tokens").Int()),
		}

	case UsageOpenAIResponses:
		u := r.Get("usage")
		if !u.Exists() {
			return nil
		}
		out := &gateway.TrafficUsage{
			OpenAIRespInputTokens:  i64(u.Get("input_tokens").Int()),
			OpenAIRespOutputTokens: i64(u.Get("output_tokens").Int()),
		}
		if v := u.Get("input_tokens_details.cached_tokens"); v.Exists() {
			out.OpenAIRespCachedTokens = i64(v.Int())
		}
		if v := u.Get("output_tokens_details.reasoning_tokens"); v.Exists() {
			out.OpenAIRespReasoningTokens = i64(v.Int())
		}
		return out

	default:
		return nil
	}
}
