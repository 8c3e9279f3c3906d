// Package resource declares the per-kind pipeline configuration: ownership
// scope, role gate and lifecycle hooks for each document collection.
package resource

import (
	"strconv"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/store"
)

// Def couples a URL segment with its engine definition.
type Def struct {
	Name      string
	Deletable bool
	engine.Definition
}

// All returns the top-level resource definitions. Task timers are nested
// under timesheets and registered separately.
func All(s store.Store) []Def {
	return []Def{
		Accounts(s),
		Events(s),
		EventCategories(),
		Entities(),
		Projects(),
		Stages(),
		Timesheets(),
	}
}

// Stages holds the project workflow stages, shared reference data.
func Stages() Def {
	return Def{
		Name:       domain.Stages,
		Definition: engine.Definition{Collection: domain.Stages},
	}
}

// EventCategories is read-mostly reference data, unscoped and without hooks.
func EventCategories() Def {
	return Def{
		Name:       domain.EventCategories,
		Definition: engine.Definition{Collection: domain.EventCategories},
	}
}

// Entities are unscoped; household entities carry an address and validate it.
func Entities() Def {
	return Def{
		Name: domain.Entities,
		Definition: engine.Definition{
			Collection: domain.Entities,
			Hooks: engine.Hooks{
				Validate: validateEntity,
			},
		},
	}
}

func validateEntity(body store.Document) error {
	if body.String("entityType") != "household" {
		return nil
	}
	required := []struct{ field, message string }{
		{"name", "Name is required"},
		{"addressLine1", "Address line 1 is required"},
		{"city", "City is required"},
		{"state", "State is required"},
		{"postal", "Postal code is required"},
	}
	for _, r := range required {
		if body.String(r.field) == "" {
			return engine.ValidationError{Reason: r.message}
		}
	}
	return nil
}

// Projects are unscoped and require a name and a status.
func Projects() Def {
	return Def{
		Name: domain.Projects,
		Definition: engine.Definition{
			Collection: domain.Projects,
			Hooks: engine.Hooks{
				Validate: func(body store.Document) error {
					if body.String("name") == "" {
						return engine.ValidationError{Reason: "Name is required"}
					}
					if body.String("status") == "" {
						return engine.ValidationError{Reason: "Status is required"}
					}
					return nil
				},
			},
		},
	}
}

// coerceNumber normalizes a field a client may have sent as a string.
// Zero and empty values are left untouched, matching the original presence
// semantics.
func coerceNumber(body store.Document, field string) {
	v, ok := body[field].(string)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		body[field] = n
	}
}
