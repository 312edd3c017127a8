package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type truth int8

const (
	unknown truth = iota
	isFalse
	isTrue
)

func fromBool(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

// Matches evaluates the expression against a record given as field values.
// Missing fields behave like NULL. A nil expression matches every record.
func (e *Expr) Matches(record map[string]any) (bool, error) {
	if e == nil {
		return true, nil
	}
	t, err := e.eval(record)
	if err != nil {
		return false, err
	}
	return t == isTrue, nil
}

func (e *Expr) eval(record map[string]any) (truth, error) {
	switch e.Op {
	case OpAnd:
		result := isTrue
		for _, a := range e.Args {
			t, err := a.eval(record)
			if err != nil {
				return unknown, err
			}
			if t == isFalse {
				return isFalse, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case OpOr:
		result := isFalse
		for _, a := range e.Args {
			t, err := a.eval(record)
			if err != nil {
				return unknown, err
			}
			if t == isTrue {
				return isTrue, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case OpNot:
		if len(e.Args) != 1 {
			return unknown, fmt.Errorf("%w: not takes exactly one argument", ErrInvalidExpr)
		}
		t, err := e.Args[0].eval(record)
		if err != nil {
			return unknown, err
		}
		switch t {
		case isTrue:
			return isFalse, nil
		case isFalse:
			return isTrue, nil
		}
		return unknown, nil
	}

	v := record[e.Field]
	switch e.Op {
	case OpIsNull:
		return fromBool(v == nil), nil
	case OpNotNull:
		return fromBool(v != nil), nil
	}
	if v == nil {
		return unknown, nil
	}

	switch e.Op {
	case OpEq, OpNe:
		c, err := compare(v, e.Value)
		if errors.Is(err, ErrTypeMismatch) {
			return fromBool(e.Op == OpNe), nil
		}
		if err != nil {
			return unknown, err
		}
		return fromBool((c == 0) == (e.Op == OpEq)), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, err := compare(v, e.Value)
		if err != nil {
			return unknown, fmt.Errorf("%s on %q: %w", e.Op, e.Field, err)
		}
		switch e.Op {
		case OpGt:
			return fromBool(c > 0), nil
		case OpGte:
			return fromBool(c >= 0), nil
		case OpLt:
			return fromBool(c < 0), nil
		default:
			return fromBool(c <= 0), nil
		}
	case OpIn:
		sawNull := false
		for _, candidate := range e.Values {
			if candidate == nil {
				sawNull = true
				continue
			}
			c, err := compare(v, candidate)
			if err == nil && c == 0 {
				return isTrue, nil
			}
		}
		if sawNull {
			return unknown, nil
		}
		return isFalse, nil
	}
	return unknown, fmt.Errorf("%w: unknown operator %q", ErrInvalidExpr, e.Op)
}

// compare orders two scalar values. Numbers (including bools, which SQL
// stores as 0/1) compare numerically, strings lexically, times chronologically.
func compare(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, a, b)
		}
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	if sa, ok := toString(a); ok {
		sb, ok := toString(b)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, a, b)
		}
		return strings.Compare(sa, sb), nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs %T", ErrTypeMismatch, a, b)
		}
		return ta.Compare(tb), nil
	}
	return 0, fmt.Errorf("%w: unsupported type %T", ErrTypeMismatch, a)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}
