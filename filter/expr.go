// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package filter

import (
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
)

// Op is the operator of an expression node.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Expr is one node of a predicate tree. A nil *Expr matches everything.
type Expr struct {
	Op     Op      `json:"op"`
	Field  string  `json:"field,omitempty"`
	Value  any     `json:"value,omitempty"`
	Values []any   `json:"values,omitempty"`
	Args   []*Expr `json:"args,omitempty"`
}

func Eq(field string, v any) *Expr  { return &Expr{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v any) *Expr  { return &Expr{Op: OpNe, Field: field, Value: v} }
func Gt(field string, v any) *Expr  { return &Expr{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v any) *Expr { return &Expr{Op: OpGte, Field: field, Value: v} }
func Lt(field string, v any) *Expr  { return &Expr{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v any) *Expr { return &Expr{Op: OpLte, Field: field, Value: v} }

// In matches when the field equals any of values. An empty set matches nothing.
func In(field string, values ...any) *Expr {
	return &Expr{Op: OpIn, Field: field, Values: values}
}

func IsNull(field string) *Expr  { return &Expr{Op: OpIsNull, Field: field} }
func NotNull(field string) *Expr { return &Expr{Op: OpNotNull, Field: field} }

// And combines expressions; nil arguments are dropped.
func And(args ...*Expr) *Expr { return combine(OpAnd, args) }

// Or combines expressions; nil arguments are dropped.
func Or(args ...*Expr) *Expr { return combine(OpOr, args) }

func Not(e *Expr) *Expr { return &Expr{Op: OpNot, Args: []*Expr{e}} }

func combine(op Op, args []*Expr) *Expr {
	kept := make([]*Expr, 0, len(args))
	for _, a := range args {
		if a != nil {
			kept = append(kept, a)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Expr{Op: op, Args: kept}
}

// Validate checks the structure of the tree and that every field is a plain
// identifier safe to splice into SQL.
func (e *Expr) Validate() error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if e.Value == nil {
			return fmt.Errorf("%w: %s on %q needs a value (use is_null)", ErrInvalidExpr, e.Op, e.Field)
		}
		return validField(e.Field)
	case OpIn, OpIsNull, OpNotNull:
		return validField(e.Field)
	case OpAnd, OpOr:
		if len(e.Args) == 0 {
			return fmt.Errorf("%w: %s without arguments", ErrInvalidExpr, e.Op)
		}
	case OpNot:
		if len(e.Args) != 1 {
			return fmt.Errorf("%w: not takes exactly one argument", ErrInvalidExpr)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidExpr, e.Op)
	}
	for _, a := range e.Args {
		if a == nil {
			return fmt.Errorf("%w: nil argument to %s", ErrInvalidExpr, e.Op)
		}
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validField(f string) error {
	if !identifier.MatchString(f) {
		return fmt.Errorf("%w: %q", ErrInvalidField, f)
	}
	return nil
}

// Fields returns the distinct field names referenced by the tree.
func (e *Expr) Fields() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(*Expr)
	walk = func(n *Expr) {
		if n == nil {
			return
		}
		if n.Field != "" && !seen[n.Field] {
			seen[n.Field] = true
			out = append(out, n.Field)
		}
		for _, a := range n.Args {
			walk(a)
		}
	}
	walk(e)
	return out
}

// Parse decodes a JSON expression and validates it. Empty input or "null"
// yields a nil expression.
func Parse(data []byte) (*Expr, error) {
	var e *Expr
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpr, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// String renders the expression as JSON, mainly for logging.
func (e *Expr) String() string {
	if e == nil {
		return "<all>"
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(b)
}
