package plan

import "encoding/json"

// wireNode is the JSON-exchange form of a NodeSpec, matching spec section 6:
// "a JSON document {nodes: {id: spec}, goals: [spec], imported_namespaces:
// [string]}. The spec form is the same canonical form used for hashing."
type wireNode struct {
	Operator string            `json:"operator,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	Constant json.RawMessage   `json:"constant,omitempty"`
}

type wireGoal struct {
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
	Path  string `json:"path,omitempty"`
	Node  string `json:"node"`
}

type wirePlan struct {
	Nodes              map[string]wireNode `json:"nodes"`
	Goals              []wireGoal          `json:"goals"`
	ImportedNamespaces []string            `json:"imported_namespaces"`
}

// MarshalJSON encodes the plan using the canonical per-node form described
// in spec section 6, so that exporting and re-hashing an imported plan
// reproduces the same NodeIds (see the round-trip test in format_test.go).
func (p *WorkPlan) MarshalJSON() ([]byte, error) {
	wp := wirePlan{
		Nodes:              make(map[string]wireNode, len(p.Nodes)),
		ImportedNamespaces: p.ImportedNamespaces,
	}
	for id, spec := range p.Nodes {
		tree, err := canonicalTree(spec)
		if err != nil {
			return nil, err
		}
		m := tree.(map[string]any)
		wn := wireNode{}
		if op, ok := m["operator"]; ok {
			wn.Operator = op.(string)
			args := m["args"].(map[string]any)
			wn.Args = make(map[string]string, len(args))
			for k, v := range args {
				wn.Args[k] = v.(string)
			}
		} else {
			raw, err := json.Marshal(m["constant"])
			if err != nil {
				return nil, err
			}
			wn.Constant = raw
		}
		wp.Nodes[string(id)] = wn
	}
	for _, g := range p.Goals {
		wg := wireGoal{Node: string(g.Node)}
		switch g.Kind {
		case GoalPrint:
			wg.Kind = "print"
			wg.Label = g.Label
		case GoalSave:
			wg.Kind = "save"
			wg.Path = g.Path
		}
		wp.Goals = append(wp.Goals, wg)
	}
	return json.Marshal(wp)
}

// UnmarshalPlan parses the wire form produced by MarshalJSON back into a
// WorkPlan. Closures are not reconstructed into KindClosure NodeSpecs on
// import: their canonical form is indistinguishable from a plain constant
// (spec section 4.1), so round-tripped closures come back as opaque
// KindConstant nodes carrying the same descriptor value and therefore the
// same NodeId. This is sufficient for export/inspection and for the
// determinism property the plan format exists to support; engines that need
// to re-expand an imported closure must be given the original WorkPlan.
func UnmarshalPlan(data []byte) (*WorkPlan, error) {
	var wp wirePlan
	if err := json.Unmarshal(data, &wp); err != nil {
		return nil, err
	}
	p := New()
	for idStr, wn := range wp.Nodes {
		var spec NodeSpec
		if wn.Operator != "" {
			args := make(map[string]NodeId, len(wn.Args))
			for k, v := range wn.Args {
				args[k] = NodeId(v)
			}
			spec = PrimitiveWithArgs(wn.Operator, args)
		} else {
			var v any
			if err := json.Unmarshal(wn.Constant, &v); err != nil {
				return nil, err
			}
			spec = Constant(v)
		}
		p.Nodes[NodeId(idStr)] = spec
	}
	for _, wg := range wp.Goals {
		g := GoalSpec{Node: NodeId(wg.Node), Label: wg.Label, Path: wg.Path}
		switch wg.Kind {
		case "print":
			g.Kind = GoalPrint
		case "save":
			g.Kind = GoalSave
		}
		p.Goals = append(p.Goals, g)
	}
	for _, ns := range wp.ImportedNamespaces {
		p.AddImport(ns)
	}
	return p, nil
}
