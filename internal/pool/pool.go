// Package pool implements the per-provider credential pool: an ordered set
// of credentials overlaid with transient health marks (disallows), served
// through a sequential attempt loop. It has no knowledge of dialects or
// transforms -- those live in internal/dispatch.
//
// Grounded on internal/circuitbreaker's mutex-protected state-machine style
// and internal/app/proxy.go's priority-failover attempt loop, generalized
// from a single-credential-per-provider model to an ordered pool with a
// disallow overlay per the credential pool specification.
package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/leenhawk/gproxy/internal"
	"github.com/leenhawk/gproxy/internal/circuitbreaker"
)

// AttemptFunc executes one call against cred. On success it returns a
// response and a nil error. On failure it must return a
// *gateway.AttemptFailure describing the passthrough error the caller
// should eventually see and, optionally, the disallow mark to apply.
//
// A non-generic signature is used deliberately: every attempt in this
// codebase produces a gateway.ProxyResponse, and a generic Execute[T] would
// buy type parametrization nothing here while adding an instantiation-time
// allocation on the hot dispatch path.
type AttemptFunc func(ctx context.Context, cred gateway.Credential) (gateway.ProxyResponse, error)

// Pool is the credential pool for a single provider. The zero value is not
// usable; construct with New.
type Pool struct {
	providerID string
	snapshot   atomic.Pointer[gateway.PoolSnapshot]
	sink       gateway.StateSink // may be nil in tests
	mu         sync.Mutex        // serializes snapshot rebuilds only
	log        *slog.Logger
	breaker    *circuitbreaker.Breaker // optional provider-wide fast-path guard; nil disables it
}

// New creates a Pool for providerID seeded with snapshot.
func New(providerID string, snapshot gateway.PoolSnapshot, sink gateway.StateSink) *Pool {
	p := &Pool{providerID: providerID, sink: sink, log: slog.With("component", "pool", "provider", providerID)}
	p.snapshot.Store(&snapshot)
	return p
}

// WithBreaker attaches a provider-wide circuit breaker that Execute
// consults before walking the credential list. It complements, rather than
// replaces, the per-credential disallow marks: the breaker trips on the
// provider's aggregate error rate across all credentials, catching an
// outage that degrades every credential at once faster than per-credential
// marks alone would (each credential only trips its own mark after its own
// failed attempt).
func (p *Pool) WithBreaker(b *circuitbreaker.Breaker) *Pool {
	p.breaker = b
	return p
}

// Snapshot returns the current shared snapshot value. Cheap, non-blocking.
func (p *Pool) Snapshot() gateway.PoolSnapshot {
	return *p.snapshot.Load()
}

// Replace atomically swaps the pool's snapshot, emitting a "snapshot
// replaced" state event. Used by admin mutations and reload.
func (p *Pool) Replace(snapshot gateway.PoolSnapshot) {
	p.snapshot.Store(&snapshot)
	if p.sink != nil {
		p.sink.RecordState(gateway.ProviderStateEvent{
			ProviderID:   p.providerID,
			SnapshotSwap: true,
			OccurredAt:   time.Now(),
		})
	}
}

// eligible reports whether cred may be attempted for scope under snapshot at
// time now: enabled, no AllModels disallow, and no unexpired disallow at
// scope itself.
func eligible(snap gateway.PoolSnapshot, cred gateway.Credential, scope gateway.Scope, now time.Time) bool {
	if !cred.Enabled {
		return false
	}
	if e, ok := snap.Disallow(cred.ID, gateway.AllModels()); ok && !e.IsExpired(now) {
		return false
	}
	if scope.Kind == gateway.ScopeModel {
		if e, ok := snap.Disallow(cred.ID, scope); ok && !e.IsExpired(now) {
			return false
		}
	}
	return true
}

// eligibleOrdered builds the deterministic attempt order for scope: enabled,
// unmarked credentials ordered by descending weight, tiebreaking by
// ascending credential id.
func eligibleOrdered(snap gateway.PoolSnapshot, scope gateway.Scope, now time.Time) []gateway.Credential {
	out := make([]gateway.Credential, 0, len(snap.Credentials))
	for _, c := range snap.Credentials {
		if eligible(snap, c, scope, now) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Execute is the core dispatch primitive: it reads the snapshot once,
// builds the eligibility list for scope, and calls attempt in order until
// one succeeds or the list is exhausted. It never reshuffles order mid-call
// even if a concurrent Replace lands.
func (p *Pool) Execute(ctx context.Context, scope gateway.Scope, attempt AttemptFunc) (gateway.ProxyResponse, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return gateway.ProxyResponse{}, gateway.NewServiceUnavailableError(p.providerID)
	}

	now := time.Now()
	snap := p.Snapshot()
	order := eligibleOrdered(snap, scope, now)
	if len(order) == 0 {
		return gateway.ProxyResponse{}, gateway.NewPoolEmptyError()
	}

	var lastErr error
	for _, cred := range order {
		result, err := attempt(ctx, cred)
		if err == nil {
			p.markSuccess(cred.ID, scope)
			p.recordBreaker(nil)
			return result, nil
		}

		var af *gateway.AttemptFailure
		if errA, ok := err.(*gateway.AttemptFailure); ok {
			af = errA
		} else {
			af = &gateway.AttemptFailure{Passthrough: err}
		}
		lastErr = af.Passthrough
		if af.Mark != nil {
			p.applyMark(*af.Mark)
		}
	}
	p.recordBreaker(lastErr)
	return gateway.ProxyResponse{}, lastErr
}

// recordBreaker feeds the attempt's outcome into the provider-wide breaker,
// if one is attached. A nil err records a success.
func (p *Pool) recordBreaker(err error) {
	if p.breaker == nil {
		return
	}
	if err == nil {
		p.breaker.RecordSuccess()
		return
	}
	p.breaker.RecordError(circuitbreaker.ClassifyError(err))
}

// markSuccess emits a success event and clears any Transient mark on
// (credentialID, scope), idempotently.
func (p *Pool) markSuccess(credentialID int64, scope gateway.Scope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.Snapshot()
	if e, ok := snap.Disallow(credentialID, scope); ok && e.Level == gateway.Transient {
		entries := withoutEntry(snap.DisallowEntries(), credentialID, scope)
		p.snapshot.Store(ptrSnap(gateway.NewPoolSnapshot(snap.Credentials, entries)))
	}
	if p.sink != nil {
		p.sink.RecordState(gateway.ProviderStateEvent{
			ProviderID:   p.providerID,
			CredentialID: credentialID,
			Scope:        scope,
			Cleared:      true,
			OccurredAt:   time.Now(),
		})
	}
}

// applyMark rebuilds the snapshot with entry applied, under the pool's
// mutex. An AllModels mark clears any narrower Model(x) mark for the same
// credential, per the scope-subsumption invariant.
func (p *Pool) applyMark(entry gateway.DisallowEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.Snapshot()
	entries := snap.DisallowEntries()
	if entry.Scope.Kind == gateway.ScopeAllModels {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.CredentialID == entry.CredentialID && e.Scope.Kind == gateway.ScopeModel {
				continue
			}
			filtered = append(filtered, e)
		}
		entries = filtered
	}
	entries = withoutEntry(entries, entry.CredentialID, entry.Scope)
	entries = append(entries, entry)
	p.snapshot.Store(ptrSnap(gateway.NewPoolSnapshot(snap.Credentials, entries)))

	p.log.Debug("applied disallow mark",
		slog.Int64("credential_id", entry.CredentialID),
		slog.String("level", entry.Level.String()),
	)
	if p.sink != nil {
		e := entry
		p.enqueueState(gateway.ProviderStateEvent{
			ProviderID:   p.providerID,
			CredentialID: entry.CredentialID,
			Scope:        entry.Scope,
			Entry:        &e,
			OccurredAt:   time.Now(),
		})
	}
}

// enqueueState applies the in-memory mark (already done by the caller) and
// hands the event to the sink. Pool state events are never dropped: per the
// storage bus's backpressure contract the sink itself blocks briefly and
// retries rather than discarding -- this call only forwards.
func (p *Pool) enqueueState(ev gateway.ProviderStateEvent) {
	p.sink.RecordState(ev)
}

func withoutEntry(entries []gateway.DisallowEntry, credentialID int64, scope gateway.Scope) []gateway.DisallowEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.CredentialID == credentialID && e.Scope == scope {
			continue
		}
		out = append(out, e)
	}
	return out
}

func ptrSnap(s gateway.PoolSnapshot) *gateway.PoolSnapshot { return &s }
