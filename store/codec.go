package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec serializes and deserializes kernel-return values for the durable
// tier (spec section 6, "result codec registry"). IsPersistent marks
// whether payloads under this tag are eligible for durable writes at all
// — non-persistent codecs' values live only in the ephemeral tier even
// when a durable Backend is configured.
type Codec struct {
	Tag         string
	Serialize   func(v any) ([]byte, error)
	Deserialize func(data []byte) (any, error)
	IsPersistent bool
}

// CodecRegistry is a tag -> Codec lookup table, guarded for concurrent
// registration and lookup (kernels may register codecs for their own
// output types at program startup, potentially from multiple
// goroutines).
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewCodecRegistry returns a registry pre-populated with the built-in
// "json" codec, suitable for any JSON-marshalable kernel output.
func NewCodecRegistry() *CodecRegistry {
	r := &CodecRegistry{codecs: make(map[string]Codec)}
	r.Register(jsonCodec())
	return r
}

// Register adds or replaces a codec.
func (r *CodecRegistry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Tag] = c
}

// Lookup returns the codec registered under tag.
func (r *CodecRegistry) Lookup(tag string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[tag]
	return c, ok
}

func jsonCodec() Codec {
	return Codec{
		Tag:          "json",
		IsPersistent: true,
		Serialize: func(v any) ([]byte, error) {
			return json.Marshal(v)
		},
		Deserialize: func(data []byte) (any, error) {
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("json codec: %w", err)
			}
			return v, nil
		},
	}
}

// EphemeralCodec marks a tag as ephemeral-only: its payloads are never
// written to the durable backend, for values like opaque in-process
// handles that cannot or should not be serialized.
func EphemeralCodec(tag string) Codec {
	return Codec{Tag: tag, IsPersistent: false}
}
