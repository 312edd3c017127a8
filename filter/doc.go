// Package filter provides a small serializable predicate tree used to
// restrict match candidates.
//
// The same expression can be evaluated against an in-memory record or
// compiled into a SQL WHERE fragment, so every search strategy applies an
// identical filter. Evaluation follows SQL three-valued logic: a comparison
// against a missing or NULL field is unknown, and only true passes.
package filter
