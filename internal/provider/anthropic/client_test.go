package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/leenhawk/gproxy/internal"
)

type fakeSink struct {
	upstream []gateway.UpstreamTrafficEvent
}

func (f *fakeSink) RecordUpstream(ev gateway.UpstreamTrafficEvent)     { f.upstream = append(f.upstream, ev) }
func (f *fakeSink) RecordDownstream(ev gateway.DownstreamTrafficEvent) {}

func cred(secret string) gateway.Credential {
	return gateway.Credential{ID: 1, ProviderID: "claude", Enabled: true, Secret: json.RawMessage(secret)}
}

func TestCall_DirectGenerate(t *testing.T) {
	t.Parallel()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-6","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := New("claude", srv.URL, nil, "")
	sink := &fakeSink{}
	cc := gateway.CallContext{TraceID: "t1", Traffic: sink}

	req := gateway.ProxyRequest{
		Dialect:   gateway.DialectClaude,
		Operation: gateway.OpGenerate,
		Model:     "claude-sonnet-4-6",
		Method:    http.MethodPost,
		Body:      json.RawMessage(`{"model":"claude-sonnet-4-6","messages":[]}`),
	}
	resp, err := c.Call(context.Background(), cc, cred(`{"api_key":"sk-test"}`), req)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if gotAuth != "sk-test" {
		t.Errorf("x-api-key header = %q, want sk-test", gotAuth)
	}
	if len(sink.upstream) != 1 {
		t.Fatalf("expected 1 upstream traffic event, got %d", len(sink.upstream))
	}
	if sink.upstream[0].Usage == nil || *sink.upstream[0].Usage.ClaudeInputTokens != 10 {
		t.Errorf("usage not recorded correctly: %+v", sink.upstream[0].Usage)
	}
}

func TestCall_RateLimitedProducesCooldownMark(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate_limited"}`))
	}))
	defer srv.Close()

	c := New("claude", srv.URL, nil, "")
	req := gateway.ProxyRequest{
		Dialect:   gateway.DialectClaude,
		Operation: gateway.OpGenerate,
		Model:     "claude-sonnet-4-6",
		Method:    http.MethodPost,
		Body:      json.RawMessage(`{"model":"claude-sonnet-4-6","messages":[]}`),
	}
	_, err := c.Call(context.Background(), gateway.CallContext{}, cred(`{"api_key":"sk-test"}`), req)
	if err == nil {
		t.Fatal("expected an error on 429")
	}
	af, ok := err.(*gateway.AttemptFailure)
	if !ok {
		t.Fatalf("err = %T, want *gateway.AttemptFailure", err)
	}
	if af.Mark == nil || af.Mark.Level != gateway.Cooldown {
		t.Errorf("mark = %+v, want a Cooldown mark", af.Mark)
	}
}

func TestURL_BedrockHosting(t *testing.T) {
	t.Parallel()
	c := New("claude-bedrock", "https://bedrock.example.com", nil, "bedrock")
	got, err := c.url(gateway.ProxyRequest{Operation: gateway.OpGenerate, Model: "anthropic.claude-v2"}, gateway.Credential{})
	if err != nil {
		t.Fatalf("url() error = %v", err)
	}
	want := "https://bedrock.example.com/model/anthropic.claude-v2/invoke"
	if got != want {
		t.Errorf("url() = %q, want %q", got, want)
	}
}

func TestWrapBody_BedrockFoldsVersionAndDropsModel(t *testing.T) {
	t.Parallel()
	c := New("claude-bedrock", "", nil, "bedrock")
	out, err := c.wrapBody(json.RawMessage(`{"model":"anthropic.claude-v2","max_tokens":10}`))
	if err != nil {
		t.Fatalf("wrapBody() error = %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal wrapped body: %v", err)
	}
	if _, ok := fields["model"]; ok {
		t.Error("model field should be dropped for bedrock hosting")
	}
	if string(fields["anthropic_version"]) != `"bedrock-2023-05-31"` {
		t.Errorf("anthropic_version = %s, want bedrock-2023-05-31", fields["anthropic_version"])
	}
}
