// Package provider implements the provider registry for LLM provider
// adapters, plus the shared native-call pipeline every concrete dialect
// client (anthropic, gemini, openai) drives.
//
// This file is the shared unary/streaming pipeline described by the
// transform pipeline design: plan, translate, build the native HTTP request,
// execute it, and either wrap a live stream or translate the buffered body
// back to the caller's dialect, recording the upstream traffic leg and
// classifying failures into pool disallow marks. Each concrete adapter only
// supplies the provider-specific pieces via Endpoint: URL shape, per-
// credential HTTP client, auth headers, and any hosting-specific body
// rewrite.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/dispatch"
	"github.com/leenhawk/gproxy/internal/pool"
	"github.com/leenhawk/gproxy/internal/ratelimit"
)

// Endpoint supplies the provider-specific pieces of a native call. NativeCall
// owns everything dialect-agnostic: planning, translation, traffic
// recording, and disallow classification.
type Endpoint struct {
	// Dialect is the wire format this provider natively speaks.
	Dialect gateway.Dialect

	// URL returns the upstream URL for req, which has already been
	// translated into this provider's dialect and carries the resolved
	// model. cred is supplied so a credential's Meta.base_url override (set
	// per credential, not per provider) can take precedence over the
	// provider's default base URL.
	URL func(req gateway.ProxyRequest, cred gateway.Credential) (string, error)

	// Client returns the *http.Client to use for cred's attempt. Providers
	// whose auth is a plain request header can return the same shared
	// client every time; OAuth/SigV4-style providers return a per-credential
	// client wrapping the shared transport, typically cached by credential
	// ID (see ClientCache).
	Client func(cred gateway.Credential) (*http.Client, error)

	// SetHeaders applies content-type and any header-based auth to the
	// outbound request. A no-op for providers whose auth lives entirely in
	// the Client's transport chain.
	SetHeaders func(h http.Header, cred gateway.Credential, req gateway.ProxyRequest)

	// WrapBody optionally rewrites the translated body before it is sent,
	// e.g. Anthropic's Vertex/Bedrock hosting variants which fold
	// anthropic_version into the body and drop the model field. A nil
	// WrapBody sends the translated body unmodified.
	WrapBody func(body json.RawMessage) (json.RawMessage, error)
}

// credentialMeta is the shape of Credential.Meta this package understands.
type credentialMeta struct {
	BaseURL string `json:"base_url"`
}

// BaseURLOverride returns cred's Meta.base_url, if set, so an adapter's URL
// builder can use it in place of the provider's configured default.
func BaseURLOverride(cred gateway.Credential) string {
	if len(cred.Meta) == 0 {
		return ""
	}
	var m credentialMeta
	if json.Unmarshal(cred.Meta, &m) != nil {
		return ""
	}
	return m.BaseURL
}

// scopeFor returns the disallow scope a failed attempt against req should be
// marked at: the specific model when one is known, all models otherwise
// (ModelsList carries no model).
func scopeFor(req gateway.ProxyRequest) gateway.Scope {
	if req.Model == "" {
		return gateway.AllModels()
	}
	return gateway.ModelScope(req.Model)
}

// usageKind returns the usage accounting that applies to plan, whether the
// call ran native or through a transform.
func usageKind(plan dispatch.Plan) dispatch.UsageKind {
	if plan.Transform != nil {
		return plan.Transform.Usage
	}
	return plan.Usage
}

// NativeCall runs one credential attempt against ep: plan the request
// against ep.Dialect, translate if needed, build and send the native HTTP
// request, and on success either hand back a live (recording) stream or a
// translated, traffic-recorded buffered body. On failure it returns a
// *gateway.AttemptFailure carrying the disallow mark the credential pool's
// Execute loop should apply.
func NativeCall(ctx context.Context, ep Endpoint, cc gateway.CallContext, cred gateway.Credential, req gateway.ProxyRequest) (gateway.ProxyResponse, error) {
	// dispatch.PlanRequest only resolves Claude, Gemini, and OpenAIResponses
	// origins: an OpenAIChat caller reaches a provider speaking any of those
	// by first being lifted to Claude dialect here. req itself is left
	// untouched so every later use of req.Dialect/req.Body (traffic
	// recording, TranslateResponse's origin) still reflects the true
	// OpenAIChat origin; only the planning-and-translate copy is lifted.
	planReq := req
	if req.Dialect == gateway.DialectOpenAIChat && ep.Dialect != gateway.DialectOpenAIChat &&
		req.Operation != gateway.OpModelsList && req.Operation != gateway.OpModelsGet {
		lifted, err := dispatch.LiftOpenAIChatToClaude(req.Body)
		if err != nil {
			return gateway.ProxyResponse{}, gateway.NewTransformError(err)
		}
		planReq.Dialect = gateway.DialectClaude
		planReq.Body = lifted
	}

	var plan dispatch.Plan
	if req.Operation == gateway.OpModelsList || req.Operation == gateway.OpModelsGet {
		// Catalog shape is dialect-stable; forwarded natively regardless of
		// the caller's dialect.
		plan = dispatch.Plan{Native: true}
	} else {
		var err error
		plan, err = dispatch.PlanRequest(planReq, ep.Dialect)
		if err != nil {
			return gateway.ProxyResponse{}, gateway.NewClientError(http.StatusBadRequest, err.Error())
		}
	}

	upstreamReq := planReq
	if plan.Transform != nil {
		translated, err := dispatch.Translate(*plan.Transform, planReq)
		if err != nil {
			return gateway.ProxyResponse{}, gateway.NewTransformError(err)
		}
		upstreamReq = translated
	}

	body := upstreamReq.Body
	if ep.WrapBody != nil {
		wrapped, err := ep.WrapBody(body)
		if err != nil {
			return gateway.ProxyResponse{}, gateway.NewTransformError(err)
		}
		body = wrapped
	}

	upstreamURL, err := ep.URL(upstreamReq, cred)
	if err != nil {
		return gateway.ProxyResponse{}, gateway.NewClientError(http.StatusBadRequest, err.Error())
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, upstreamURL, bodyReader)
	if err != nil {
		return gateway.ProxyResponse{}, gateway.NewInternalError(err)
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if ep.SetHeaders != nil {
		ep.SetHeaders(httpReq.Header, cred, upstreamReq)
	}

	client, err := ep.Client(cred)
	if err != nil {
		return gateway.ProxyResponse{}, gateway.NewInternalError(err)
	}

	meta := gateway.UpstreamRecordMeta{
		Method:       req.Method,
		Path:         req.Path,
		Query:        req.Query,
		Headers:      req.Headers,
		Body:         req.Body,
		ProviderID:   cred.ProviderID,
		CredentialID: cred.ID,
		Operation:    req.Operation,
		Model:        req.Model,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		mark := pool.ClassifyNetworkError(cred.ID, scopeFor(req), time.Now())
		return gateway.ProxyResponse{}, &gateway.AttemptFailure{
			Passthrough: gateway.NewTransientNetworkError(err),
			Mark:        mark,
		}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		retryAfter, ok := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		mark := pool.ClassifyMark(cred.ID, scopeFor(req), resp.StatusCode, retryAfter, ok, time.Now())
		return gateway.ProxyResponse{}, &gateway.AttemptFailure{
			Passthrough: gateway.NewClientError(resp.StatusCode, fmt.Sprintf("upstream %s: %s", cred.ProviderID, string(errBody))),
			Mark:        mark,
		}
	}

	if req.Stream {
		stream := resp.Body
		if plan.Transform != nil {
			stream = dispatch.WrapStream(*plan.Transform, resp.Body, req.Model, cc.RequestID, meta, cc.TraceID, cc.Traffic)
		} else {
			stream = recordPassthroughStream(resp.Body, meta, cc.TraceID, cc.Traffic)
		}
		return gateway.ProxyResponse{
			Status:      resp.StatusCode,
			Headers:     resp.Header,
			Stream:      stream,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	resp.Body.Close()
	if err != nil {
		return gateway.ProxyResponse{}, gateway.NewInternalError(err)
	}

	outBody := respBody
	if plan.Transform != nil {
		translated, err := dispatch.TranslateResponse(*plan.Transform, req.Dialect, respBody, req.Model)
		if err != nil {
			return gateway.ProxyResponse{}, gateway.NewTransformError(err)
		}
		outBody = translated
	}

	if cc.Traffic != nil {
		cc.Traffic.RecordUpstream(gateway.UpstreamTrafficEvent{
			TraceID:    cc.TraceID,
			Meta:       meta,
			Status:     resp.StatusCode,
			Headers:    resp.Header,
			Body:       respBody,
			Usage:      dispatch.ExtractUsage(usageKind(plan), respBody),
			OccurredAt: time.Now(),
		})
	}

	return gateway.ProxyResponse{
		Status:      resp.StatusCode,
		Headers:     resp.Header,
		Body:        outBody,
		ContentType: "application/json",
	}, nil
}

// recordPassthroughStream tees upstream's bytes to the caller unchanged,
// recording the accumulated body as one upstream traffic event at EOF. Used
// when the provider natively speaks the caller's dialect, so no
// TransformPlan applies and dispatch.WrapStream (which also drives a
// translation state machine) would be the wrong tool. Mirrors WrapStream's
// own io.Pipe actor shape in internal/dispatch/pipeline.go.
func recordPassthroughStream(upstream io.ReadCloser, meta gateway.UpstreamRecordMeta, traceID string, sink gateway.TrafficSink) io.ReadCloser {
	if sink == nil {
		return upstream
	}
	pr, pw := io.Pipe()
	go func() {
		defer upstream.Close()
		var buf bytes.Buffer
		_, err := io.Copy(io.MultiWriter(pw, &buf), upstream)
		sink.RecordUpstream(gateway.UpstreamTrafficEvent{
			TraceID:    traceID,
			Meta:       meta,
			Status:     200,
			Body:       buf.Bytes(),
			Streamed:   true,
			OccurredAt: time.Now(),
		})
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}
