// Package store implements the result store: a content-addressed,
// two-tier cache with atomic claim/complete coordination (spec section
// 4.4). The ephemeral tier and claim map live in-process; durable
// persistence is delegated to a pluggable Backend (see store/bbolt,
// store/mongo, store/redis).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

// Status is a ResultRecord's position in its state machine:
// Pending -> Ready -> Claimed -> (Succeeded | Failed). The store only
// models the Computing/Succeeded/Failed portion; Pending/Ready are the
// engine's dependency-tracking states (spec section 4.5).
type Status int

const (
	StatusComputing Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusComputing:
		return "computing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ResultRecord is the store value per NodeId (spec section 3).
type ResultRecord struct {
	Status   Status
	Payload  any
	Err      error
	CodecTag string
	ClaimedAt   time.Time
	CompletedAt time.Time
}

// Clone returns a shallow copy safe to hand to a caller without exposing
// the store's internal record pointer.
func (r ResultRecord) Clone() ResultRecord { return r }

// ClaimOutcome is the result of a claim call.
type ClaimOutcome int

const (
	Claimed ClaimOutcome = iota
	AlreadyComputing
	AlreadySucceeded
	AlreadyFailed
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyComputing:
		return "already_computing"
	case AlreadySucceeded:
		return "already_succeeded"
	case AlreadyFailed:
		return "already_failed"
	default:
		return "unknown"
	}
}

// ResultStore is the interface the execution engine drives (spec section
// 4.4).
type ResultStore interface {
	// Claim atomically attempts to become the producer for id. Exactly one
	// concurrent caller observes Claimed; others observe the id's current
	// terminal or in-flight state.
	Claim(ctx context.Context, id plan.NodeId) (ClaimOutcome, ResultRecord, error)

	// PutSuccess transitions id from Computing to Succeeded, storing
	// payload under codecTag, and wakes any awaiters. Only the caller that
	// received Claimed for id may call this.
	PutSuccess(ctx context.Context, id plan.NodeId, payload any, codecTag string) error

	// PutFailure transitions id from Computing to Failed and wakes any
	// awaiters.
	PutFailure(ctx context.Context, id plan.NodeId, cause error) error

	// Await blocks until id reaches a terminal state, or ctx is done.
	Await(ctx context.Context, id plan.NodeId) (ResultRecord, error)

	// Get returns a non-blocking snapshot of id's record, if any.
	Get(ctx context.Context, id plan.NodeId) (ResultRecord, bool, error)

	// Forget evicts a terminal record with no pending awaiters. Returns
	// ErrStoreBusy if id is Computing or has active awaiters.
	Forget(ctx context.Context, id plan.NodeId) error
}

// Backend is the durable-tier contract: a put/get/delete KV surface keyed
// by NodeId, with payloads opaque bytes tagged by codec. Put overwrites and
// Delete removes unconditionally; Backend has no insert-if-absent
// operation. Exclusive claims are made in Store's in-process claim map,
// and Store.Forget is what limits eviction to terminal records.
type Backend interface {
	Put(ctx context.Context, id plan.NodeId, codecTag string, data []byte) error
	Get(ctx context.Context, id plan.NodeId) (codecTag string, data []byte, ok bool, err error)
	Delete(ctx context.Context, id plan.NodeId) error
	Close() error
}

// coordination entry for the claim map: every ResultStore implementation
// in this package embeds exactly one of these per NodeId, guarded by a
// single mutex, so "at most one Claimed" is trivially verifiable (spec
// section 4.4, section 5: "a mutex on a small coordination map").
type entry struct {
	status      Status
	payload     any
	err         error
	codecTag    string
	claimedAt   time.Time
	completedAt time.Time
	done        chan struct{} // closed when the entry reaches a terminal state
	awaiters    int
}

func newComputingEntry() *entry {
	return &entry{status: StatusComputing, claimedAt: time.Now(), done: make(chan struct{})}
}

func (e *entry) record() ResultRecord {
	return ResultRecord{
		Status:      e.status,
		Payload:     e.payload,
		Err:         e.err,
		CodecTag:    e.codecTag,
		ClaimedAt:   e.claimedAt,
		CompletedAt: e.completedAt,
	}
}

// claimTable is the in-process coordination map shared by every
// ResultStore implementation in this package.
type claimTable struct {
	mu      sync.Mutex
	entries map[plan.NodeId]*entry
}

func newClaimTable() *claimTable {
	return &claimTable{entries: make(map[plan.NodeId]*entry)}
}
