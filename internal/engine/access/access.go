// Package access resolves a principal into the criteria scoping a collection
// to what that principal may act on, and gates operations on roles.
package access

import (
	"fmt"

	"daybook/internal/domain"
	"daybook/internal/store"
)

// Policy selects how a collection is scoped per principal.
type Policy int

const (
	// Unscoped applies no restriction (reference data).
	Unscoped Policy = iota
	// OwnerOnly restricts to records whose owner field matches the principal.
	OwnerOnly
	// OwnerOrPublic also admits records flagged public (visibility field
	// false or unset).
	OwnerOrPublic
)

// Scope is the per-resource ownership configuration.
type Scope struct {
	Policy          Policy
	OwnerField      string // owner reference field, e.g. "userRid"
	VisibilityField string // private flag field for OwnerOrPublic
	SeesAllRole     string // role that bypasses scoping, for administrative listing
}

// Criteria builds the scoping criteria for the principal. The same criteria
// value must gate both the visibility check and the read/write it guards.
func (s Scope) Criteria(p domain.Principal) store.Criteria {
	if s.SeesAllRole != "" && p.HasRole(s.SeesAllRole) {
		return store.Criteria{}
	}
	switch s.Policy {
	case OwnerOnly:
		return store.Where(s.OwnerField, p.ID)
	case OwnerOrPublic:
		return store.Any(
			store.Clause{s.OwnerField: p.ID},
			store.Clause{s.VisibilityField: false},
			store.Clause{s.VisibilityField: store.Absent},
		)
	default:
		return store.Criteria{}
	}
}

// Owns reports whether the principal is the document's owner under this
// scope. Unscoped collections have no owner and everything is owned.
func (s Scope) Owns(p domain.Principal, doc store.Document) bool {
	if s.OwnerField == "" {
		return true
	}
	return doc.String(s.OwnerField) == p.ID
}

// ForbiddenError indicates an authenticated principal lacks permission.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return e.Reason
}

// RequireRole is the binary role gate evaluated before ownership scoping.
func RequireRole(p domain.Principal, role string) error {
	if role == "" || p.HasRole(role) {
		return nil
	}
	return ForbiddenError{Reason: fmt.Sprintf("role %s required", role)}
}
