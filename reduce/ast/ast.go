// Package ast defines the program representation the reducer consumes.
// The DSL grammar and parser are external collaborators; this package only
// fixes the shape a parser must produce and the shape the engine's
// dask_map expansion re-derives from a closure's canonical body text.
package ast

import "fmt"

// Location is a source position, carried through for error reporting.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string { return fmt.Sprintf("%d:%d", l.Line, l.Column) }

// Expr is any reducible expression node.
type Expr interface {
	Position() Location
	exprNode()
}

// Literal is a constant scalar, string, or boolean, or a list of such
// values (the sequence a for-comprehension iterates over).
type Literal struct {
	Value any
	Pos   Location
}

func (l *Literal) Position() Location { return l.Pos }
func (*Literal) exprNode()            {}

// Identifier references a let-bound name, a function parameter, or a
// for-comprehension loop variable.
type Identifier struct {
	Name string
	Pos  Location
}

func (i *Identifier) Position() Location { return i.Pos }
func (*Identifier) exprNode()            {}

// Application is `f(e1, ..., en)`: a primitive call or a user-defined
// function invocation, disambiguated at reduce time by environment lookup.
type Application struct {
	Func string
	Args []Expr
	Pos  Location
}

func (a *Application) Position() Location { return a.Pos }
func (*Application) exprNode()            {}

// Let is `let Name = Value in Body`.
type Let struct {
	Name  string
	Value Expr
	Body  Expr
	Pos   Location
}

func (l *Let) Position() Location { return l.Pos }
func (*Let) exprNode()            {}

// ForComprehension is `for Var in Seq do Body`.
type ForComprehension struct {
	Var  string
	Seq  Expr
	Body Expr
	Pos  Location
}

func (f *ForComprehension) Position() Location { return f.Pos }
func (*ForComprehension) exprNode()            {}

// Statement is a top-level program element: it extends the environment
// (FuncDecl), records an imported namespace (Import), or emits a goal; it
// never itself reduces to a NodeId.
type Statement interface {
	stmtNode()
}

// FuncDecl is `def Name(Params...) = Body`.
type FuncDecl struct {
	Name   string
	Params []string
	Body   Expr
	Pos    Location
}

func (*FuncDecl) stmtNode() {}

// Import is `import "Namespace"`.
type Import struct {
	Namespace string
	Pos       Location
}

func (*Import) stmtNode() {}

// GoalKind distinguishes the two goal statement forms.
type GoalKind int

const (
	GoalPrint GoalKind = iota
	GoalSave
)

// Goal is `print Label Value` or `save Path Value`.
type Goal struct {
	Kind  GoalKind
	Label string // set when Kind == GoalPrint
	Path  string // set when Kind == GoalSave
	Value Expr
	Pos   Location
}

func (*Goal) stmtNode() {}

// Program is the root node: an ordered list of declarations, imports, and
// goals, exactly as they appear in source.
type Program struct {
	Statements []Statement
}
