package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
)

type fakeTrafficStore struct {
	mu   sync.Mutex
	up   []gateway.UpstreamTrafficEvent
	down []gateway.DownstreamTrafficEvent
}

func (f *fakeTrafficStore) InsertUpstreamTraffic(_ context.Context, ev []gateway.UpstreamTrafficEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = append(f.up, ev...)
	return nil
}

func (f *fakeTrafficStore) InsertDownstreamTraffic(_ context.Context, ev []gateway.DownstreamTrafficEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = append(f.down, ev...)
	return nil
}

func (f *fakeTrafficStore) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.up), len(f.down)
}

type fakeStateStore struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStateStore) ApplyProviderState(_ context.Context, _ gateway.ProviderStateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeStateStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSink_FlushesOnDrain(t *testing.T) {
	t.Parallel()
	traffic := &fakeTrafficStore{}
	state := &fakeStateStore{}
	s := New(traffic, state)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.RecordUpstream(gateway.UpstreamTrafficEvent{TraceID: "t1"})
	s.RecordDownstream(gateway.DownstreamTrafficEvent{TraceID: "t1"})
	s.RecordState(gateway.ProviderStateEvent{ProviderID: "openai"})

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	up, down := traffic.counts()
	if up != 1 || down != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", up, down)
	}
	if state.count() != 1 {
		t.Errorf("state calls = %d, want 1", state.count())
	}
}

func TestSink_TrafficOverflowDropsOldest(t *testing.T) {
	t.Parallel()
	traffic := &fakeTrafficStore{}
	state := &fakeStateStore{}
	s := New(traffic, state)

	// Fill the channel directly without a running Run loop, then push one
	// more: the oldest queued item should be evicted, not the new one.
	for i := 0; i < trafficChanSize; i++ {
		s.trafficCh <- trafficItem{upstream: &gateway.UpstreamTrafficEvent{TraceID: "fill"}}
	}
	s.RecordUpstream(gateway.UpstreamTrafficEvent{TraceID: "newest"})

	if len(s.trafficCh) != trafficChanSize {
		t.Fatalf("channel len = %d, want %d (still full)", len(s.trafficCh), trafficChanSize)
	}

	var lastSeen string
	for i := 0; i < trafficChanSize; i++ {
		item := <-s.trafficCh
		lastSeen = item.upstream.TraceID
	}
	if lastSeen != "newest" {
		t.Errorf("last item in queue = %q, want the newest item to have survived", lastSeen)
	}
}

func TestSink_StateNeverDrops(t *testing.T) {
	t.Parallel()
	traffic := &fakeTrafficStore{}
	state := &fakeStateStore{}
	s := New(traffic, state)

	var wg sync.WaitGroup
	for i := 0; i < stateChanSize+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordState(gateway.ProviderStateEvent{ProviderID: "p"})
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if got := state.count(); got != stateChanSize+5 {
		t.Errorf("state applies = %d, want %d (none dropped)", got, stateChanSize+5)
	}
}
