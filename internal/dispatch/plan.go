// Package dispatch plans and executes each incoming request: deciding
// whether a provider can serve it natively or needs translation through an
// intermediate dialect, running the translation pipeline, and handing usage
// back to the caller for recording.
//
// Grounded on original_source's dispatch/plan.rs for the shape of the
// planning decision (native vs. transform, and the concrete transform
// pairs), and on dispatch/transform.rs + dispatch/record.rs for the unary
// and streaming pipeline structure, reimplemented with the
// provider/anthropic and provider/gemini translate.go/stream.go idiom for
// the concrete JSON shuttling.
package dispatch

import (
	gateway "github.com/leenhawk/gproxy/internal"
)

// UsageKind names which dialect's usage accounting applies to a call, so the
// caller can pick the right extractor regardless of whether the call ran
// native or through a transform.
type UsageKind int

const (
	UsageNone UsageKind = iota
	UsageClaudeMessage
	UsageGeminiGenerate
	UsageOpenAIChat
	UsageOpenAIResponses
)

// TransformKind names one of the supported source->target dialect pairs.
// Every dialect pair a provider might be asked for is reached by one of
// these, never by a translator outside this set.
type TransformKind int

const (
	Claude2Gemini TransformKind = iota
	Gemini2Claude
	OpenAIResponses2Claude
	OpenAIResponses2Gemini
	Claude2OpenAIResponses
	Gemini2OpenAIResponses
)

func (k TransformKind) String() string {
	switch k {
	case Claude2Gemini:
		return "claude_to_gemini"
	case Gemini2Claude:
		return "gemini_to_claude"
	case OpenAIResponses2Claude:
		return "openai_responses_to_claude"
	case OpenAIResponses2Gemini:
		return "openai_responses_to_gemini"
	case Claude2OpenAIResponses:
		return "claude_to_openai_responses"
	case Gemini2OpenAIResponses:
		return "gemini_to_openai_responses"
	default:
		return "unknown"
	}
}

// TransformPlan is one leaf of the operation x pair cross-product: which
// operation to run, through which pair.
type TransformPlan struct {
	Operation gateway.Operation
	Kind      TransformKind
	Usage     UsageKind
}

// Plan is the outcome of planning a request against a provider: either the
// provider accepts req natively (no body rewriting, just credential
// selection and forwarding), or req must flow through a TransformPlan.
type Plan struct {
	Native    bool
	Transform *TransformPlan
	Usage     UsageKind
}

// nativePlan builds a Plan for a provider that speaks req's dialect
// directly.
func nativePlan(usage UsageKind) Plan {
	return Plan{Native: true, Usage: usage}
}

// transformPlan builds a Plan that requires running req through kind for
// op.
func transformPlan(op gateway.Operation, kind TransformKind, usage UsageKind) Plan {
	return Plan{Transform: &TransformPlan{Operation: op, Kind: kind, Usage: usage}}
}

// usageForDialect maps a request's own dialect to the usage accounting that
// applies when it is served natively (no translation at all).
func usageForDialect(d gateway.Dialect) UsageKind {
	switch d {
	case gateway.DialectClaude:
		return UsageClaudeMessage
	case gateway.DialectGemini:
		return UsageGeminiGenerate
	case gateway.DialectOpenAIChat:
		return UsageOpenAIChat
	case gateway.DialectOpenAIResponses:
		return UsageOpenAIResponses
	default:
		return UsageNone
	}
}

// PlanRequest decides, for a request in req's own dialect being routed to a
// provider that natively speaks providerDialect, whether the call is native
// or which TransformPlan applies.
//
// OpenAI Chat requests reach a non-OpenAI-Chat provider by first being
// lifted to Claude dialect (see LiftOpenAIChatToClaude, applied by the
// caller in internal/provider/native.go before PlanRequest runs) so
// PlanRequest itself only ever needs to resolve Claude, Gemini, and
// OpenAIResponses origins. A provider dialect this function cannot reach
// from req.Dialect by one of these pairs is a planning error the caller
// surfaces as a client error.
func PlanRequest(req gateway.ProxyRequest, providerDialect gateway.Dialect) (Plan, error) {
	if req.Dialect == providerDialect {
		return nativePlan(usageForDialect(req.Dialect)), nil
	}

	op := req.Operation
	usage := usageForDialect(req.Dialect)

	switch {
	case req.Dialect == gateway.DialectClaude && providerDialect == gateway.DialectGemini:
		return transformPlan(op, Claude2Gemini, usage), nil
	case req.Dialect == gateway.DialectGemini && providerDialect == gateway.DialectClaude:
		return transformPlan(op, Gemini2Claude, usage), nil
	case req.Dialect == gateway.DialectOpenAIResponses && providerDialect == gateway.DialectClaude:
		return transformPlan(op, OpenAIResponses2Claude, usage), nil
	case req.Dialect == gateway.DialectOpenAIResponses && providerDialect == gateway.DialectGemini:
		return transformPlan(op, OpenAIResponses2Gemini, usage), nil
	case req.Dialect == gateway.DialectClaude && providerDialect == gateway.DialectOpenAIResponses:
		return transformPlan(op, Claude2OpenAIResponses, usage), nil
	case req.Dialect == gateway.DialectGemini && providerDialect == gateway.DialectOpenAIResponses:
		return transformPlan(op, Gemini2OpenAIResponses, usage), nil
	default:
		return Plan{}, &UnsupportedPairError{From: req.Dialect, To: providerDialect}
	}
}
