package resource

import (
	"context"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/engine/access"
	"daybook/internal/store"
)

// Timesheets are strictly private to their owner.
func Timesheets() Def {
	return Def{
		Name: domain.Timesheets,
		Definition: engine.Definition{
			Collection: domain.Timesheets,
			Scope: access.Scope{
				Policy:     access.OwnerOnly,
				OwnerField: domain.FieldUserRid,
			},
			Hooks: engine.Hooks{
				PreSave: func(_ context.Context, p domain.Principal, body store.Document) error {
					body[domain.FieldUserRid] = p.ID
					return nil
				},
			},
		},
	}
}

// TaskTimers lives under a timesheet; the server resolves and authorizes the
// parent timesheet before the pipeline runs, and stamps the container
// reference into save bodies. The timer itself is scoped to its owner.
func TaskTimers() Def {
	return Def{
		Name: domain.TaskTimers,
		Definition: engine.Definition{
			Collection: domain.TaskTimers,
			Hooks: engine.Hooks{
				PreSave: func(_ context.Context, p domain.Principal, body store.Document) error {
					body[domain.FieldUserRid] = p.ID
					return nil
				},
			},
		},
	}
}
