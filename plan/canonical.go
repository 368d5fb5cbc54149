package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidConstant is returned by HashNode when a Constant's value cannot
// be canonicalized (NaN/Inf floats, or a value outside
// nil/bool/float64/int/int64/string/[]any/map[string]any).
type ErrInvalidConstant struct {
	Value any
}

func (e *ErrInvalidConstant) Error() string {
	return fmt.Sprintf("plan: constant value %#v cannot be canonicalized", e.Value)
}

// canonicalTree builds the {"operator":...,"args":{...}} or {"constant":...}
// object described by spec section 4.1, entirely out of maps, slices,
// strings, float64s, bools, and nil so that encodeCanonical can serialize it
// deterministically.
func canonicalTree(spec NodeSpec) (any, error) {
	switch spec.Kind {
	case KindConstant:
		v, err := canonicalValue(spec.Constant)
		if err != nil {
			return nil, err
		}
		return map[string]any{"constant": v}, nil

	case KindPrimitive:
		args := make(map[string]any, len(spec.Args))
		for k, id := range spec.Args {
			args[k] = string(id)
		}
		return map[string]any{
			"operator": spec.Operator,
			"args":     args,
		}, nil

	case KindClosure:
		captured := make([]any, len(spec.CapturedEnv))
		for i, b := range spec.CapturedEnv {
			captured[i] = map[string]any{"name": b.Name, "node": string(b.Node)}
		}
		descriptor := map[string]any{
			"variable":     spec.Variable,
			"body":         spec.BodyCanonical,
			"captured_env": captured,
		}
		return map[string]any{"constant": descriptor}, nil

	default:
		return nil, fmt.Errorf("plan: unknown node kind %v", spec.Kind)
	}
}

// canonicalValue validates and normalizes an arbitrary constant value into
// the subset of Go types encodeCanonical accepts, rejecting anything that
// cannot survive a canonical JSON round trip.
func canonicalValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, &ErrInvalidConstant{Value: v}
		}
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			cv, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			cv, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	default:
		return nil, &ErrInvalidConstant{Value: v}
	}
}

// encodeCanonical serializes tree following an RFC 8785-style canonical
// form: object keys sorted lexicographically, no insignificant whitespace,
// UTF-8 strings, and floats formatted via encoding/json's shortest
// round-trip representation (which matches JCS's ECMAScript-derived number
// formatting for all finite float64 values produced by canonicalValue).
func encodeCanonical(tree any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &ErrInvalidConstant{Value: v}
	}
	return nil
}

// HashNode computes the deterministic NodeId of spec: identical across
// processes and platforms given an identical spec, per spec section 4.1
// invariant (i).
func HashNode(spec NodeSpec) (NodeId, error) {
	tree, err := canonicalTree(spec)
	if err != nil {
		return "", err
	}
	data, err := encodeCanonical(tree)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return NodeId(hex.EncodeToString(sum[:])), nil
}

// CanonicalBytes returns the canonical serialization used to compute spec's
// NodeId, exposed for the plan format's round-trip/determinism tests and for
// export tooling (spec section 6, "Plan format").
func CanonicalBytes(spec NodeSpec) ([]byte, error) {
	tree, err := canonicalTree(spec)
	if err != nil {
		return nil, err
	}
	return encodeCanonical(tree)
}
