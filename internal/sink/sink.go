// Package sink implements the storage bus: the single background actor
// that owns the traffic/state persistence connection and is the only
// writer gateway.TrafficSink/gateway.StateSink events ever reach.
//
// Grounded on internal/worker's UsageRecorder (buffered channel,
// batch-on-size-or-ticker flush, drain-on-shutdown) and NewRunner's
// Worker interface, reused so the sink slots into cmd/gproxy's existing
// supervised-worker wiring. Its overflow policy diverges deliberately from
// UsageRecorder's drop-newest default: traffic events drop the oldest
// buffered event on overflow (a dashboard missing one old row is better
// than missing the request in flight), while pool state events are never
// dropped, per the storage bus specification's backpressure split.
package sink

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
)

const (
	trafficChanSize  = 4096
	stateChanSize    = 256
	batchSize        = 200
	flushInterval    = 2 * time.Second
	drainTimeout     = 30 * time.Second
	stateRetryWindow = 100 * time.Millisecond
)

// TrafficStore is the persistence interface the sink flushes batches to.
type TrafficStore interface {
	InsertUpstreamTraffic(ctx context.Context, events []gateway.UpstreamTrafficEvent) error
	InsertDownstreamTraffic(ctx context.Context, events []gateway.DownstreamTrafficEvent) error
}

// StateStore persists a single credential health transition. Unlike traffic,
// state events are applied one at a time: each carries a disallow mutation
// that must land in commit order, not as an unordered batch.
type StateStore interface {
	ApplyProviderState(ctx context.Context, ev gateway.ProviderStateEvent) error
}

// Metrics is the subset of telemetry the sink reports through, kept as an
// interface so tests can stub it without importing internal/telemetry.
type Metrics interface {
	ObserveSinkQueueDepth(traffic, state int)
	IncSinkDropped(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSinkQueueDepth(int, int) {}
func (noopMetrics) IncSinkDropped(string)          {}

type trafficItem struct {
	upstream   *gateway.UpstreamTrafficEvent
	downstream *gateway.DownstreamTrafficEvent
}

// Sink is the storage bus. The zero value is not usable; construct with
// New. It implements gateway.TrafficSink and gateway.StateSink.
type Sink struct {
	traffic TrafficStore
	state   StateStore
	metrics Metrics
	log     *slog.Logger

	trafficCh chan trafficItem
	stateCh   chan gateway.ProviderStateEvent
}

// Option configures a Sink at construction time.
type Option func(*Sink)

// WithMetrics attaches a Metrics sink; omit to run metrics-free (tests).
func WithMetrics(m Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// New creates a Sink. Call Run in a goroutine (or via internal/worker's
// Runner, since Sink satisfies worker.Worker) to start draining.
func New(traffic TrafficStore, state StateStore, opts ...Option) *Sink {
	s := &Sink{
		traffic:   traffic,
		state:     state,
		metrics:   noopMetrics{},
		log:       slog.With("component", "sink"),
		trafficCh: make(chan trafficItem, trafficChanSize),
		stateCh:   make(chan gateway.ProviderStateEvent, stateChanSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name satisfies internal/worker.Worker.
func (s *Sink) Name() string { return "storage_bus" }

// RecordUpstream implements gateway.TrafficSink. Drops the oldest queued
// traffic item on overflow rather than blocking the request path.
func (s *Sink) RecordUpstream(ev gateway.UpstreamTrafficEvent) {
	s.enqueueTraffic(trafficItem{upstream: &ev})
}

// RecordDownstream implements gateway.TrafficSink.
func (s *Sink) RecordDownstream(ev gateway.DownstreamTrafficEvent) {
	s.enqueueTraffic(trafficItem{downstream: &ev})
}

func (s *Sink) enqueueTraffic(item trafficItem) {
	select {
	case s.trafficCh <- item:
		return
	default:
	}
	// Full: drop the oldest buffered item to make room, then try once more.
	select {
	case <-s.trafficCh:
		s.metrics.IncSinkDropped("traffic")
	default:
	}
	select {
	case s.trafficCh <- item:
	default:
		s.metrics.IncSinkDropped("traffic")
	}
}

// RecordState implements gateway.StateSink. Pool state events are never
// dropped: a brief non-blocking retry window is given to absorb a transient
// burst, then the send blocks until it lands.
func (s *Sink) RecordState(ev gateway.ProviderStateEvent) {
	select {
	case s.stateCh <- ev:
		return
	default:
	}

	timer := time.NewTimer(stateRetryWindow)
	defer timer.Stop()
	select {
	case s.stateCh <- ev:
	case <-timer.C:
		s.log.Warn("state channel saturated past retry window, blocking")
		s.stateCh <- ev
	}
}

// Run drains both queues until ctx is cancelled, then flushes whatever
// remains with a bounded drain timeout. Satisfies internal/worker.Worker.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var upBuf []gateway.UpstreamTrafficEvent
	var downBuf []gateway.DownstreamTrafficEvent

	flush := func(ctx context.Context) {
		if len(upBuf) > 0 || len(downBuf) > 0 {
			s.flushTraffic(ctx, upBuf, downBuf)
			upBuf, downBuf = upBuf[:0], downBuf[:0]
		}
	}

	for {
		select {
		case item := <-s.trafficCh:
			if item.upstream != nil {
				upBuf = append(upBuf, *item.upstream)
			}
			if item.downstream != nil {
				downBuf = append(downBuf, *item.downstream)
			}
			if len(upBuf)+len(downBuf) >= batchSize {
				flush(ctx)
			}

		case ev := <-s.stateCh:
			s.applyState(ctx, ev)

		case <-ticker.C:
			flush(ctx)
			s.metrics.ObserveSinkQueueDepth(len(s.trafficCh), len(s.stateCh))

		case <-ctx.Done():
			s.drain(upBuf, downBuf)
			return nil
		}
	}
}

func (s *Sink) drain(upBuf []gateway.UpstreamTrafficEvent, downBuf []gateway.DownstreamTrafficEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case item := <-s.trafficCh:
			if item.upstream != nil {
				upBuf = append(upBuf, *item.upstream)
			}
			if item.downstream != nil {
				downBuf = append(downBuf, *item.downstream)
			}
		case ev := <-s.stateCh:
			s.applyState(ctx, ev)
		default:
			s.flushTraffic(ctx, upBuf, downBuf)
			return
		}
	}
}

func (s *Sink) flushTraffic(ctx context.Context, up []gateway.UpstreamTrafficEvent, down []gateway.DownstreamTrafficEvent) {
	if len(up) > 0 {
		if err := s.traffic.InsertUpstreamTraffic(ctx, up); err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "upstream traffic flush failed",
				slog.Int("count", len(up)), slog.String("error", err.Error()))
		}
	}
	if len(down) > 0 {
		if err := s.traffic.InsertDownstreamTraffic(ctx, down); err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "downstream traffic flush failed",
				slog.Int("count", len(down)), slog.String("error", err.Error()))
		}
	}
}

func (s *Sink) applyState(ctx context.Context, ev gateway.ProviderStateEvent) {
	if err := s.state.ApplyProviderState(ctx, ev); err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "provider state apply failed",
			slog.String("provider", ev.ProviderID), slog.String("error", err.Error()))
	}
}
