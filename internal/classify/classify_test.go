package classify

import (
	"net/http"
	"testing"

	gateway "github.com/leenhawk/gproxy/internal"
)

func TestRoute_ClaudeMessagesStream(t *testing.T) {
	t.Parallel()
	body := []byte(`{"model":"claude-3-5-sonnet","stream":true}`)
	req, err := Route(http.MethodPost, "v1/messages", "", http.Header{}, body, gateway.DialectClaude)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Dialect != gateway.DialectClaude || req.Operation != gateway.OpGenerateStream || req.Model != "claude-3-5-sonnet" {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_ClaudeCountTokens(t *testing.T) {
	t.Parallel()
	body := []byte(`{"model":"claude-3-5-sonnet"}`)
	req, err := Route(http.MethodPost, "v1/messages/count_tokens", "", http.Header{}, body, gateway.DialectClaude)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Operation != gateway.OpCountTokens {
		t.Errorf("Operation = %v, want OpCountTokens", req.Operation)
	}
}

func TestRoute_GeminiStreamGenerate(t *testing.T) {
	t.Parallel()
	req, err := Route(http.MethodPost, "v1beta/models/gemini-2.5-pro:streamGenerateContent", "", http.Header{}, nil, gateway.DialectGemini)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Dialect != gateway.DialectGemini || req.GeminiVersion != gateway.GeminiV1Beta || req.Operation != gateway.OpGenerateStream || req.Model != "gemini-2.5-pro" {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_GeminiCountTokens(t *testing.T) {
	t.Parallel()
	req, err := Route(http.MethodPost, "v1/models/gemini-2.5-pro:countTokens", "", http.Header{}, nil, gateway.DialectGemini)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Operation != gateway.OpCountTokens || req.GeminiVersion != gateway.GeminiV1 {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_OpenAIChatCompletions(t *testing.T) {
	t.Parallel()
	body := []byte(`{"model":"gpt-4o","stream":false}`)
	req, err := Route(http.MethodPost, "v1/chat/completions", "", http.Header{}, body, gateway.DialectOpenAIChat)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Dialect != gateway.DialectOpenAIChat || req.Operation != gateway.OpGenerate {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_OpenAIResponses(t *testing.T) {
	t.Parallel()
	body := []byte(`{"model":"gpt-4o","stream":true}`)
	req, err := Route(http.MethodPost, "v1/responses", "", http.Header{}, body, gateway.DialectOpenAIResponses)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Dialect != gateway.DialectOpenAIResponses || req.Operation != gateway.OpGenerateStream {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_BareModelsListUsesHint(t *testing.T) {
	t.Parallel()
	req, err := Route(http.MethodGet, "v1/models", "", http.Header{}, nil, gateway.DialectOpenAIChat)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Dialect != gateway.DialectOpenAIChat || req.Operation != gateway.OpModelsList {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_BareModelsGet(t *testing.T) {
	t.Parallel()
	req, err := Route(http.MethodGet, "v1/models/claude-3-5-sonnet", "", http.Header{}, nil, gateway.DialectClaude)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if req.Operation != gateway.OpModelsGet || req.Model != "claude-3-5-sonnet" {
		t.Errorf("got %+v", req)
	}
}

func TestRoute_UnrecognizedPath(t *testing.T) {
	t.Parallel()
	_, err := Route(http.MethodPost, "v1/unknown", "", http.Header{}, nil, gateway.DialectClaude)
	if err == nil {
		t.Fatal("Route() expected error for unrecognized path")
	}
}
