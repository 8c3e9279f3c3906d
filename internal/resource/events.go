package resource

import (
	"context"
	"strings"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/engine/access"
	"daybook/internal/store"
)

// Events are visible to their owner plus anyone when not flagged private.
// Mutating another owner's visible event is rejected with Forbidden rather
// than NotFound: the record is legitimately visible, it just isn't yours.
func Events(s store.Store) Def {
	return Def{
		Name:      domain.Events,
		Deletable: true,
		Definition: engine.Definition{
			Collection: domain.Events,
			Scope: access.Scope{
				Policy:          access.OwnerOrPublic,
				OwnerField:      domain.FieldUserID,
				VisibilityField: domain.FieldPrivate,
			},
			Hooks: engine.Hooks{
				PreSave:  prepareEvent,
				Validate: validateEvent,
				PreCheck: eventPreCheck(s),
			},
		},
	}
}

func prepareEvent(_ context.Context, p domain.Principal, body store.Document) error {
	body[domain.FieldUserID] = p.ID
	// Client-side backup tooling prefixes scratch fields with an underscore;
	// they never persist.
	for field := range body {
		if strings.HasPrefix(field, "_") {
			delete(body, field)
		}
	}
	coerceNumber(body, "principalAmount")
	coerceNumber(body, "interestAmount")
	return nil
}

func validateEvent(body store.Document) error {
	if body.String("eventType") == eventTypeTransaction {
		if body.String("description") == "" {
			return engine.ValidationError{Reason: "Transactions must have a description."}
		}
		if body.String("transactionDate") == "" {
			return engine.ValidationError{Reason: "Transactions must have a transaction date."}
		}
		return nil
	}
	if body.String("title") == "" {
		return engine.ValidationError{Reason: "Events must have a title."}
	}
	if body.String("category") == "" {
		return engine.ValidationError{Reason: "Events must have a category."}
	}
	if !present(body, "start") {
		return engine.ValidationError{Reason: "Events must have a start date."}
	}
	if present(body, "end") && before(body, "end", "start") {
		return engine.ValidationError{Reason: "Start date must be on or before the end date."}
	}
	return nil
}

// present treats zero numbers and empty strings as missing, matching the
// original truthiness semantics.
func present(body store.Document, field string) bool {
	switch v := body[field].(type) {
	case string:
		return v != ""
	case float64:
		return v != 0
	case nil:
		return false
	default:
		return true
	}
}

// before compares two date fields of like type; epoch numbers and ISO-8601
// strings both order correctly.
func before(body store.Document, a, b string) bool {
	if sa, ok := body[a].(string); ok {
		sb, _ := body[b].(string)
		return sa < sb
	}
	return body.Number(a) < body.Number(b)
}

// eventPreCheck distinguishes "someone else's public event" (Forbidden) from
// "no such event" (NotFound). An event the caller cannot see, whether absent
// or private to another owner, answers NotFound either way.
func eventPreCheck(s store.Store) func(ctx context.Context, p domain.Principal, id string) error {
	return func(ctx context.Context, p domain.Principal, id string) error {
		doc, err := s.Collection(domain.Events).FindOne(ctx, store.ByID(id))
		if err != nil {
			return err
		}
		if doc.String(domain.FieldUserID) == p.ID {
			return nil
		}
		if doc.Bool(domain.FieldPrivate) {
			return store.ErrNotFound
		}
		return access.ForbiddenError{Reason: "event belongs to another user"}
	}
}
