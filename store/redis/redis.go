// Package redis provides an alternate durable store.Backend plus an
// optional cross-process completion notification bus over Redis pub/sub
// (spec section 4.7 expansion). The in-process sync/channel notification
// the core spec describes only reaches awaiters within one process; this
// package extends that reach across processes sharing a Redis instance.
// Grounded on registry/result_stream.go's Redis-backed mapping keys
// (Set/Get/Del/Expire) generalized from tool_use_id->stream_id mappings
// to NodeId->payload storage, with the notification mechanism switched
// from Pulse streams to go-redis's native Publish/Subscribe.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

const defaultKeyPrefix = "voxlogica:result:"

// Backend implements store.Backend by storing each NodeId's payload as a
// single Redis string value, with the codec tag carried alongside in an
// envelope.
type Backend struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration // 0 means no expiry
}

// Option configures a Backend.
type Option func(*Backend)

// WithKeyPrefix overrides the default "voxlogica:result:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) { b.prefix = prefix }
}

// WithTTL sets an expiry on stored results; zero (the default) means no
// expiry.
func WithTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.ttl = ttl }
}

// New returns a Backend using rdb.
func New(rdb *redis.Client, opts ...Option) *Backend {
	b := &Backend{rdb: rdb, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type envelope struct {
	CodecTag string `json:"codec_tag"`
	Data     []byte `json:"data"`
}

func (b *Backend) key(id plan.NodeId) string { return b.prefix + string(id) }

// Put implements store.Backend.
func (b *Backend) Put(ctx context.Context, id plan.NodeId, codecTag string, data []byte) error {
	payload, err := json.Marshal(envelope{CodecTag: codecTag, Data: data})
	if err != nil {
		return fmt.Errorf("redis backend: encode envelope: %w", err)
	}
	return b.rdb.Set(ctx, b.key(id), payload, b.ttl).Err()
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, id plan.NodeId) (string, []byte, bool, error) {
	raw, err := b.rdb.Get(ctx, b.key(id)).Bytes()
	if err == redis.Nil {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, false, fmt.Errorf("redis backend: decode envelope: %w", err)
	}
	return env.CodecTag, env.Data, true, nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(ctx context.Context, id plan.NodeId) error {
	return b.rdb.Del(ctx, b.key(id)).Err()
}

// Close implements store.Backend. The underlying *redis.Client is shared
// and owned by the caller; Close is a no-op here.
func (b *Backend) Close() error { return nil }

// completionChannel is the Redis pub/sub channel carrying NodeId
// completion notifications across processes sharing a store.
const completionChannel = "voxlogica:result:completions"

// Notifier publishes and observes cross-process node-completion events.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier returns a Notifier using rdb.
func NewNotifier(rdb *redis.Client) *Notifier { return &Notifier{rdb: rdb} }

// NotifyComplete publishes id's completion to every subscribed process.
func (n *Notifier) NotifyComplete(ctx context.Context, id plan.NodeId) error {
	return n.rdb.Publish(ctx, completionChannel, string(id)).Err()
}

// Subscribe returns a channel of completed NodeIds. The returned
// unsubscribe func must be called to release the underlying connection.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan plan.NodeId, func() error) {
	sub := n.rdb.Subscribe(ctx, completionChannel)
	out := make(chan plan.NodeId, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- plan.NodeId(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close
}
