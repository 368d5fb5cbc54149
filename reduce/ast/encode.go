package ast

import (
	"encoding/json"
	"fmt"
)

// wireExpr is the tagged-union JSON form of Expr, used to serialize a
// closure's body into its canonical text (spec section 4.3's
// body_expr_canonical) and to re-derive the Expr during dask_map
// expansion (spec section 4.5a). Field order here is fixed by the struct
// definition, and json.Marshal never reorders struct fields, so encoding
// the same Expr always yields byte-identical output.
type wireExpr struct {
	Kind string `json:"kind"`

	// Literal
	Value any `json:"value,omitempty"`

	// Identifier / Application.Func
	Name string `json:"name,omitempty"`

	// Application
	Args []wireExpr `json:"args,omitempty"`

	// Let
	Binding string    `json:"binding,omitempty"`
	Bound   *wireExpr `json:"bound,omitempty"`
	Body    *wireExpr `json:"body,omitempty"`

	// ForComprehension
	Var string    `json:"var,omitempty"`
	Seq *wireExpr `json:"seq,omitempty"`
}

func toWire(e Expr) (wireExpr, error) {
	switch n := e.(type) {
	case *Literal:
		return wireExpr{Kind: "literal", Value: n.Value}, nil
	case *Identifier:
		return wireExpr{Kind: "identifier", Name: n.Name}, nil
	case *Application:
		args := make([]wireExpr, len(n.Args))
		for i, a := range n.Args {
			w, err := toWire(a)
			if err != nil {
				return wireExpr{}, err
			}
			args[i] = w
		}
		return wireExpr{Kind: "application", Name: n.Func, Args: args}, nil
	case *Let:
		value, err := toWire(n.Value)
		if err != nil {
			return wireExpr{}, err
		}
		body, err := toWire(n.Body)
		if err != nil {
			return wireExpr{}, err
		}
		return wireExpr{Kind: "let", Binding: n.Name, Bound: &value, Body: &body}, nil
	case *ForComprehension:
		seq, err := toWire(n.Seq)
		if err != nil {
			return wireExpr{}, err
		}
		body, err := toWire(n.Body)
		if err != nil {
			return wireExpr{}, err
		}
		return wireExpr{Kind: "for", Var: n.Var, Seq: &seq, Body: &body}, nil
	default:
		return wireExpr{}, fmt.Errorf("ast: unknown expression type %T", e)
	}
}

func fromWire(w wireExpr) (Expr, error) {
	switch w.Kind {
	case "literal":
		return &Literal{Value: w.Value}, nil
	case "identifier":
		return &Identifier{Name: w.Name}, nil
	case "application":
		args := make([]Expr, len(w.Args))
		for i, a := range w.Args {
			arg, err := fromWire(a)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return &Application{Func: w.Name, Args: args}, nil
	case "let":
		if w.Bound == nil || w.Body == nil {
			return nil, fmt.Errorf("ast: malformed let expression")
		}
		value, err := fromWire(*w.Bound)
		if err != nil {
			return nil, err
		}
		body, err := fromWire(*w.Body)
		if err != nil {
			return nil, err
		}
		return &Let{Name: w.Binding, Value: value, Body: body}, nil
	case "for":
		if w.Seq == nil || w.Body == nil {
			return nil, fmt.Errorf("ast: malformed for-comprehension")
		}
		seq, err := fromWire(*w.Seq)
		if err != nil {
			return nil, err
		}
		body, err := fromWire(*w.Body)
		if err != nil {
			return nil, err
		}
		return &ForComprehension{Var: w.Var, Seq: seq, Body: body}, nil
	default:
		return nil, fmt.Errorf("ast: unknown expression kind %q", w.Kind)
	}
}

// Canonicalize renders e as a deterministic JSON text, suitable for use as
// a Closure's body_expr_canonical and for later round-tripping via Parse.
func Canonicalize(e Expr) (string, error) {
	w, err := toWire(e)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Parse reconstructs the Expr a prior call to Canonicalize produced. This
// is the re-derivation step the execution engine's dask_map expansion
// relies on (spec section 4.5a) — it operates purely on the core's own
// canonical encoding, not on DSL source text.
func Parse(canonical string) (Expr, error) {
	var w wireExpr
	if err := json.Unmarshal([]byte(canonical), &w); err != nil {
		return nil, fmt.Errorf("ast: parse canonical expression: %w", err)
	}
	return fromWire(w)
}
