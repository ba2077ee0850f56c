package dispatch

import (
	"errors"
	"testing"

	gateway "github.com/leenhawk/gproxy/internal"
)

func TestPlanRequest_Native(t *testing.T) {
	t.Parallel()
	req := gateway.ProxyRequest{Dialect: gateway.DialectClaude, Operation: gateway.OpGenerate}
	plan, err := PlanRequest(req, gateway.DialectClaude)
	if err != nil {
		t.Fatalf("PlanRequest: %v", err)
	}
	if !plan.Native {
		t.Error("same-dialect request should plan native")
	}
	if plan.Usage != UsageClaudeMessage {
		t.Errorf("usage = %v, want UsageClaudeMessage", plan.Usage)
	}
}

func TestPlanRequest_Transform(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to gateway.Dialect
		want     TransformKind
	}{
		{gateway.DialectClaude, gateway.DialectGemini, Claude2Gemini},
		{gateway.DialectGemini, gateway.DialectClaude, Gemini2Claude},
		{gateway.DialectOpenAIResponses, gateway.DialectClaude, OpenAIResponses2Claude},
		{gateway.DialectOpenAIResponses, gateway.DialectGemini, OpenAIResponses2Gemini},
		{gateway.DialectClaude, gateway.DialectOpenAIResponses, Claude2OpenAIResponses},
		{gateway.DialectGemini, gateway.DialectOpenAIResponses, Gemini2OpenAIResponses},
	}
	for _, c := range cases {
		req := gateway.ProxyRequest{Dialect: c.from, Operation: gateway.OpGenerate}
		plan, err := PlanRequest(req, c.to)
		if err != nil {
			t.Fatalf("PlanRequest(%v -> %v): %v", c.from, c.to, err)
		}
		if plan.Native {
			t.Errorf("%v -> %v should not plan native", c.from, c.to)
		}
		if plan.Transform == nil || plan.Transform.Kind != c.want {
			t.Errorf("%v -> %v: got %+v, want kind %v", c.from, c.to, plan.Transform, c.want)
		}
	}
}

func TestPlanRequest_UnsupportedPair(t *testing.T) {
	t.Parallel()
	// PlanRequest never sees DialectOpenAIChat as req.Dialect in normal
	// operation -- native.go lifts it to Claude before planning -- but if a
	// caller skips that lift, planning must fail loudly rather than silently
	// mishandle it.
	req := gateway.ProxyRequest{Dialect: gateway.DialectOpenAIChat, Operation: gateway.OpGenerate}
	_, err := PlanRequest(req, gateway.DialectOpenAIResponses)
	var upe *UnsupportedPairError
	if !errors.As(err, &upe) {
		t.Fatalf("expected *UnsupportedPairError, got %v", err)
	}
	if upe.HTTPStatus() != 400 {
		t.Errorf("HTTPStatus() = %d, want 400", upe.HTTPStatus())
	}
}
