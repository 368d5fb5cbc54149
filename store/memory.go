package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/telemetry"
)

// Store is the reference ResultStore implementation: an in-process claim
// table plus ephemeral tier, optionally backed by a durable Backend for
// persistent codecs. Grounded on runtime/agent/session/inmem.Store's
// mutex-guarded-map-with-clone-on-read shape, generalized from session
// records to ResultRecords and extended with claim/await coordination
// (spec section 4.4).
type Store struct {
	claims  *claimTable
	codecs  *CodecRegistry
	backend Backend // nil means ephemeral-only

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithBackend attaches a durable Backend; PutSuccess for payloads whose
// codec is persistent writes through to it.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithCodecRegistry overrides the default codec registry.
func WithCodecRegistry(r *CodecRegistry) Option {
	return func(s *Store) { s.codecs = r }
}

// WithLogger attaches a Logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics attaches a Metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns an empty Store. Without WithBackend, it is purely
// ephemeral — the reference in-memory implementation named in spec
// section 6 ("An in-memory implementation is supplied for tests").
func New(opts ...Option) *Store {
	s := &Store{
		claims:  newClaimTable(),
		codecs:  NewCodecRegistry(),
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim implements ResultStore.
func (s *Store) Claim(ctx context.Context, id plan.NodeId) (ClaimOutcome, ResultRecord, error) {
	s.claims.mu.Lock()

	if e, ok := s.claims.entries[id]; ok {
		rec := e.record()
		s.claims.mu.Unlock()
		switch e.status {
		case StatusSucceeded:
			return AlreadySucceeded, rec, nil
		case StatusFailed:
			return AlreadyFailed, rec, nil
		default:
			return AlreadyComputing, rec, nil
		}
	}

	// Not in the in-process claim map; check the durable backend before
	// handing out a fresh Claimed, so a prior process's persisted result
	// is honored instead of recomputed.
	if s.backend != nil {
		codecTag, data, ok, err := s.backend.Get(ctx, id)
		if err != nil {
			s.claims.mu.Unlock()
			return 0, ResultRecord{}, err
		}
		if ok {
			payload, derr := s.decode(codecTag, data)
			if derr != nil {
				s.claims.mu.Unlock()
				return 0, ResultRecord{}, derr
			}
			done := make(chan struct{})
			close(done)
			e := &entry{status: StatusSucceeded, payload: payload, codecTag: codecTag, done: done}
			s.claims.entries[id] = e
			rec := e.record()
			s.claims.mu.Unlock()
			return AlreadySucceeded, rec, nil
		}
	}

	e := newComputingEntry()
	s.claims.entries[id] = e
	s.claims.mu.Unlock()
	s.metrics.IncCounter("store.claim", 1)
	return Claimed, e.record(), nil
}

// PutSuccess implements ResultStore.
func (s *Store) PutSuccess(ctx context.Context, id plan.NodeId, payload any, codecTag string) error {
	codec, ok := s.codecs.Lookup(codecTag)
	if !ok {
		return unknownCodec(codecTag)
	}

	if s.backend != nil && codec.IsPersistent {
		data, err := codec.Serialize(payload)
		if err != nil {
			return fmt.Errorf("store: serialize payload for %q: %w", codecTag, err)
		}
		// The record transitions to Succeeded in the ephemeral tier before
		// this durable write is awaited by callers that use a background
		// writer; here the write happens synchronously, then the status
		// flips, matching spec section 4.4's ordering guarantee.
		if err := s.backend.Put(ctx, id, codecTag, data); err != nil {
			return fmt.Errorf("store: durable write for %s: %w", id, err)
		}
	}

	return s.complete(id, func(e *entry) error {
		e.status = StatusSucceeded
		e.payload = payload
		e.codecTag = codecTag
		return nil
	})
}

// PutFailure implements ResultStore.
func (s *Store) PutFailure(ctx context.Context, id plan.NodeId, cause error) error {
	return s.complete(id, func(e *entry) error {
		e.status = StatusFailed
		e.err = cause
		return nil
	})
}

func (s *Store) complete(id plan.NodeId, mutate func(*entry) error) error {
	s.claims.mu.Lock()
	e, ok := s.claims.entries[id]
	if !ok {
		s.claims.mu.Unlock()
		return &Error{Kind: ErrKindNotClaimed, ID: string(id)}
	}
	if e.status != StatusComputing {
		s.claims.mu.Unlock()
		return nil // already terminal: immutability invariant, not an error for idempotent completion
	}
	if err := mutate(e); err != nil {
		s.claims.mu.Unlock()
		return err
	}
	e.completedAt = time.Now()
	close(e.done)
	s.claims.mu.Unlock()
	return nil
}

// Await implements ResultStore.
func (s *Store) Await(ctx context.Context, id plan.NodeId) (ResultRecord, error) {
	s.claims.mu.Lock()
	e, ok := s.claims.entries[id]
	if !ok {
		s.claims.mu.Unlock()
		return ResultRecord{}, &Error{Kind: ErrKindNotClaimed, ID: string(id)}
	}
	if e.status != StatusComputing {
		rec := e.record()
		s.claims.mu.Unlock()
		return rec, nil
	}
	e.awaiters++
	done := e.done
	s.claims.mu.Unlock()

	select {
	case <-done:
		s.claims.mu.Lock()
		rec := e.record()
		e.awaiters--
		s.claims.mu.Unlock()
		return rec, nil
	case <-ctx.Done():
		s.claims.mu.Lock()
		e.awaiters--
		s.claims.mu.Unlock()
		return ResultRecord{}, ctx.Err()
	}
}

// Get implements ResultStore.
func (s *Store) Get(_ context.Context, id plan.NodeId) (ResultRecord, bool, error) {
	s.claims.mu.Lock()
	defer s.claims.mu.Unlock()
	e, ok := s.claims.entries[id]
	if !ok {
		return ResultRecord{}, false, nil
	}
	return e.record(), true, nil
}

// Forget implements ResultStore.
func (s *Store) Forget(ctx context.Context, id plan.NodeId) error {
	s.claims.mu.Lock()
	e, ok := s.claims.entries[id]
	if !ok {
		s.claims.mu.Unlock()
		return nil
	}
	if e.status == StatusComputing || e.awaiters > 0 {
		s.claims.mu.Unlock()
		return storeBusy(string(id))
	}
	delete(s.claims.entries, id)
	s.claims.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Delete(ctx, id); err != nil {
			return fmt.Errorf("store: durable delete for %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) decode(codecTag string, data []byte) (any, error) {
	codec, ok := s.codecs.Lookup(codecTag)
	if !ok {
		return nil, unknownCodec(codecTag)
	}
	return codec.Deserialize(data)
}
