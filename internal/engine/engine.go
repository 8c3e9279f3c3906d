// Package engine implements the generic resource access pipeline shared by
// every document resource, and the task-timer state machine built beside it.
package engine

import (
	"context"
	"errors"
	"time"

	"daybook/internal/domain"
	"daybook/internal/engine/access"
	"daybook/internal/store"
)

type Engine struct {
	Store store.Store
	Now   func() time.Time
}

func New(s store.Store) Engine {
	return Engine{Store: s, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError aborts a save with a caller-visible reason.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// Hooks customize the pipeline per resource. Every hook is optional; the
// default is a no-op / pass-through.
type Hooks struct {
	// PreSave normalizes the candidate body (type coercion, owner stamping).
	PreSave func(ctx context.Context, p domain.Principal, body store.Document) error
	// Validate enforces the resource's required-field rules.
	Validate func(body store.Document) error
	// PreCheck overrides the existence+ownership gate shared by save and
	// remove. The default resolves the id under the resource's scope.
	PreCheck func(ctx context.Context, p domain.Principal, id string) error
	// PreRemove runs cascading cleanup before the primary delete.
	PreRemove func(ctx context.Context, id string) error
	// PostFetch transforms the result set of a list read.
	PostFetch func(ctx context.Context, docs []store.Document) ([]store.Document, error)
}

// Definition configures the pipeline for one resource kind.
type Definition struct {
	Collection string
	Scope      access.Scope
	Role       string // required role, "" allows any authenticated principal
	Hooks      Hooks
}

// List reads every record the principal may see, conjoined with exact-match
// query filters, then applies the post-fetch hook.
func (e Engine) List(ctx context.Context, def Definition, p domain.Principal, filters store.Clause) ([]store.Document, error) {
	if err := access.RequireRole(p, def.Role); err != nil {
		return nil, err
	}
	criteria := def.Scope.Criteria(p)
	if len(filters) > 0 {
		criteria = criteria.And(store.Criteria{Must: filters})
	}
	docs, err := e.Store.Collection(def.Collection).Find(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if def.Hooks.PostFetch != nil {
		return def.Hooks.PostFetch(ctx, docs)
	}
	return docs, nil
}

// GetOne reads a single record under ownership scoping; a record filtered
// out by the scope is indistinguishable from an absent one.
func (e Engine) GetOne(ctx context.Context, def Definition, p domain.Principal, id string) (store.Document, error) {
	if err := access.RequireRole(p, def.Role); err != nil {
		return nil, err
	}
	return e.Store.Collection(def.Collection).FindOne(ctx, def.Scope.Criteria(p).With(store.FieldID, id))
}

// Save runs the pre-save, validate and pre-check hooks in order, then
// persists by upsert. The returned flag reports whether a new identity was
// assigned. No write happens before every hook has passed.
func (e Engine) Save(ctx context.Context, def Definition, p domain.Principal, id string, body store.Document) (store.Document, bool, error) {
	if err := access.RequireRole(p, def.Role); err != nil {
		return nil, false, err
	}
	if body == nil {
		return nil, false, ValidationError{Reason: "Request is empty."}
	}
	body = body.Clone()
	if id != "" {
		body[store.FieldID] = id
	} else {
		delete(body, store.FieldID)
	}
	if def.Hooks.PreSave != nil {
		if err := def.Hooks.PreSave(ctx, p, body); err != nil {
			return nil, false, err
		}
	}
	if def.Hooks.Validate != nil {
		if err := def.Hooks.Validate(body); err != nil {
			var ve ValidationError
			if errors.As(err, &ve) {
				return nil, false, err
			}
			return nil, false, ValidationError{Reason: err.Error()}
		}
	}
	if err := e.preCheck(ctx, def, p, id); err != nil {
		return nil, false, err
	}
	return e.Store.Collection(def.Collection).Save(ctx, body)
}

// Remove deletes a record after the shared pre-check and the resource's
// cascading pre-remove hook. A failed cascade aborts the primary delete.
func (e Engine) Remove(ctx context.Context, def Definition, p domain.Principal, id string) error {
	if err := access.RequireRole(p, def.Role); err != nil {
		return err
	}
	if err := e.preCheck(ctx, def, p, id); err != nil {
		return err
	}
	if def.Hooks.PreRemove != nil {
		if err := def.Hooks.PreRemove(ctx, id); err != nil {
			return err
		}
	}
	// Existence and ownership were confirmed above, so the delete is keyed
	// by id alone.
	n, err := e.Store.Collection(def.Collection).Remove(ctx, store.ByID(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// preCheck is the existence+ownership gate shared by Save and Remove. A
// create (empty id) is always permitted; otherwise the id must resolve under
// the resource's ownership criteria.
func (e Engine) preCheck(ctx context.Context, def Definition, p domain.Principal, id string) error {
	if id == "" {
		return nil
	}
	if def.Hooks.PreCheck != nil {
		return def.Hooks.PreCheck(ctx, p, id)
	}
	_, err := e.Store.Collection(def.Collection).FindOne(ctx, def.Scope.Criteria(p).With(store.FieldID, id))
	return err
}
