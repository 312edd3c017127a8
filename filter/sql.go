package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the positional parameter style of the target database.
type Dialect int

const (
	// Question uses "?" markers (SQLite).
	Question Dialect = iota
	// Dollar uses "$1, $2, ..." markers (PostgreSQL).
	Dollar
)

// Placeholders hands out parameter markers for one statement. Share a single
// instance across every fragment of the statement so numbering stays
// consistent.
type Placeholders struct {
	dialect Dialect
	n       int
}

// NewPlaceholders starts numbering after the given count of already bound
// parameters.
func NewPlaceholders(d Dialect, used int) *Placeholders {
	return &Placeholders{dialect: d, n: used}
}

// Next returns the marker for the next parameter.
func (p *Placeholders) Next() string {
	p.n++
	if p.dialect == Dollar {
		return "$" + strconv.Itoa(p.n)
	}
	return "?"
}

// Count returns how many parameters have been handed out.
func (p *Placeholders) Count() int {
	return p.n
}

// Column renders a quoted column reference with an optional table qualifier.
func Column(qualifier, field string) string {
	if qualifier == "" {
		return `"` + field + `"`
	}
	return qualifier + `."` + field + `"`
}

// ToSQL compiles the expression into a WHERE fragment and its arguments.
// A nil expression compiles to "1 = 1".
func (e *Expr) ToSQL(ph *Placeholders, qualifier string) (string, []any, error) {
	if e == nil {
		return "1 = 1", nil, nil
	}
	if err := e.Validate(); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	var args []any
	if err := e.write(&b, &args, ph, qualifier); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

var comparisonSQL = map[Op]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

func (e *Expr) write(b *strings.Builder, args *[]any, ph *Placeholders, q string) error {
	switch e.Op {
	case OpAnd, OpOr:
		joiner := " AND "
		if e.Op == OpOr {
			joiner = " OR "
		}
		b.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(joiner)
			}
			if err := a.write(b, args, ph, q); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	case OpNot:
		b.WriteString("NOT (")
		if err := e.Args[0].write(b, args, ph, q); err != nil {
			return err
		}
		b.WriteByte(')')
		return nil
	case OpIsNull:
		b.WriteString(Column(q, e.Field) + " IS NULL")
		return nil
	case OpNotNull:
		b.WriteString(Column(q, e.Field) + " IS NOT NULL")
		return nil
	case OpIn:
		if len(e.Values) == 0 {
			b.WriteString("1 = 0")
			return nil
		}
		b.WriteString(Column(q, e.Field) + " IN (")
		for i, v := range e.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ph.Next())
			*args = append(*args, v)
		}
		b.WriteByte(')')
		return nil
	}
	op, ok := comparisonSQL[e.Op]
	if !ok {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidExpr, e.Op)
	}
	fmt.Fprintf(b, "%s %s %s", Column(q, e.Field), op, ph.Next())
	*args = append(*args, e.Value)
	return nil
}
