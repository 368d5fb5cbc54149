package reduce

import (
	"github.com/voxlogica-project/voxlogica-core/plan"
	"github.com/voxlogica-project/voxlogica-core/reduce/ast"
)

// function is a user-defined function binding: its parameter list, body,
// and the environment in effect at the point of its `def` (spec section
// 3, Environment: "name -> (params, body_ast)").
type function struct {
	params []string
	body   ast.Expr
	env    *Environment
}

// Environment is an immutable, singly-linked frame of name->NodeId
// bindings and function definitions (spec section 3). Extending an
// Environment never mutates the parent frame, so a captured Environment
// reference remains valid regardless of later reduction in sibling
// scopes.
type Environment struct {
	parent *Environment
	name   string
	node   plan.NodeId
	fn     *function
}

// NewEnvironment returns the empty root environment.
func NewEnvironment() *Environment { return nil }

// ExtendNode returns a new environment binding name to node, shadowing any
// outer binding of the same name.
func (e *Environment) ExtendNode(name string, node plan.NodeId) *Environment {
	return &Environment{parent: e, name: name, node: node}
}

// ExtendFunc returns a new environment binding name to a function
// definition, shadowing any outer binding of the same name.
func (e *Environment) ExtendFunc(name string, params []string, body ast.Expr, closureEnv *Environment) *Environment {
	return &Environment{parent: e, name: name, fn: &function{params: params, body: body, env: closureEnv}}
}

// LookupNode walks the chain looking for the nearest binding of name to a
// NodeId. ok is false if name is unbound or only bound to a function.
func (e *Environment) LookupNode(name string) (plan.NodeId, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.name == name {
			if cur.fn != nil {
				return "", false
			}
			return cur.node, true
		}
	}
	return "", false
}

// LookupFunc walks the chain looking for the nearest binding of name to a
// function definition.
func (e *Environment) LookupFunc(name string) (*function, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.name == name {
			if cur.fn == nil {
				return nil, false
			}
			return cur.fn, true
		}
	}
	return nil, false
}
