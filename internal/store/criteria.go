package store

import (
	"sort"
	"strings"
)

// absentValue matches documents where the field is missing or null.
type absentValue struct{}

// Absent is the condition value for "field not set".
var Absent = absentValue{}

// Clause is a conjunction of field conditions.
type Clause map[string]any

// Criteria scopes reads, writes and existence checks. All Must conditions
// hold, and within each AnyOf group at least one clause holds. Combining two
// criteria with And keeps every group, so the result is still a conjunction.
type Criteria struct {
	Must  Clause
	AnyOf [][]Clause
}

// Where starts a criteria with a single field condition.
func Where(field string, value any) Criteria {
	return Criteria{Must: Clause{field: value}}
}

// ByID scopes to a single document identity.
func ByID(id string) Criteria {
	return Where(FieldID, id)
}

// Any builds a criteria requiring at least one of the clauses to match.
func Any(clauses ...Clause) Criteria {
	return Criteria{AnyOf: [][]Clause{clauses}}
}

// With returns a copy of the criteria with an extra Must condition.
func (c Criteria) With(field string, value any) Criteria {
	return c.And(Where(field, value))
}

// And conjoins two criteria. A field condition present on both sides is kept
// as two conditions that must both hold, never overwritten, so conjoining
// untrusted filters can only narrow a criteria.
func (c Criteria) And(other Criteria) Criteria {
	out := Criteria{}
	if len(c.Must) > 0 || len(other.Must) > 0 {
		out.Must = Clause{}
		for k, v := range c.Must {
			out.Must[k] = v
		}
		for _, k := range sortedKeys(other.Must) {
			v := other.Must[k]
			if _, taken := out.Must[k]; taken {
				out.AnyOf = append(out.AnyOf, []Clause{{k: v}})
				continue
			}
			out.Must[k] = v
		}
	}
	out.AnyOf = append(out.AnyOf, c.AnyOf...)
	out.AnyOf = append(out.AnyOf, other.AnyOf...)
	return out
}

// compile renders the criteria as a SQL fragment beginning with " AND ",
// suitable for appending after the collection predicate.
func (c Criteria) compile() (string, []any) {
	var sqlText string
	var args []any
	for _, field := range sortedKeys(c.Must) {
		frag, fragArgs := condition(field, c.Must[field])
		sqlText += " AND " + frag
		args = append(args, fragArgs...)
	}
	for _, group := range c.AnyOf {
		if len(group) == 0 {
			continue
		}
		var branches []string
		for _, clause := range group {
			var parts []string
			for _, field := range sortedKeys(clause) {
				frag, fragArgs := condition(field, clause[field])
				parts = append(parts, frag)
				args = append(args, fragArgs...)
			}
			branches = append(branches, "("+strings.Join(parts, " AND ")+")")
		}
		sqlText += " AND (" + strings.Join(branches, " OR ") + ")"
	}
	return sqlText, args
}

func condition(field string, value any) (string, []any) {
	expr := fieldExpr(field)
	if _, ok := value.(absentValue); ok {
		return expr + " IS NULL", nil
	}
	if b, ok := value.(bool); ok {
		// json_extract surfaces JSON booleans as 0/1.
		if b {
			return expr + " = 1", nil
		}
		return expr + " = 0", nil
	}
	return expr + " = ?", []any{value}
}

func sortedKeys(c Clause) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
