package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/engine/access"
	"daybook/internal/resource"
	"daybook/internal/store"
)

type timerResponse struct {
	Body domain.TaskTimer `json:"body"`
}

// registerTaskTimers wires the timesheet-nested timer surface: generic
// list/save scoped to the parent timesheet, plus the start/stop transitions.
func registerTaskTimers(api huma.API, e engine.Engine) {
	def := resource.TaskTimers()
	base := "/timesheets/{timesheetRid}/taskTimers"

	// requireTimesheet authorizes the parent container: absent is NotFound,
	// another owner's timesheet is Forbidden.
	requireTimesheet := func(ctx context.Context, p domain.Principal, id string) error {
		sheet, err := e.Store.Collection(domain.Timesheets).FindOne(ctx, store.ByID(id))
		if err != nil {
			return err
		}
		if sheet.String(domain.FieldUserRid) != p.ID {
			return access.ForbiddenError{Reason: "timesheet belongs to another user"}
		}
		return nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-taskTimers",
		Method:      http.MethodGet,
		Path:        base,
		Summary:     "List task timers in a timesheet",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TimesheetRid string `path:"timesheetRid"`
	}) (*documentListResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTimesheet(ctx, p, input.TimesheetRid); err != nil {
			return nil, handleError(err)
		}
		filters := queryFilters(ctx)
		if filters == nil {
			filters = store.Clause{}
		}
		filters[domain.FieldTimesheetRid] = input.TimesheetRid
		docs, err := e.List(ctx, def.Definition, p, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentListResponse{Body: docs}, nil
	})

	save := func(ctx context.Context, timesheetRid, id string, body store.Document) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireTimesheet(ctx, p, timesheetRid); err != nil {
			return nil, handleError(err)
		}
		if body == nil {
			body = store.Document{}
		}
		body = body.Clone()
		body[domain.FieldTimesheetRid] = timesheetRid
		doc, _, err := e.Save(ctx, def.Definition, p, id, body)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: doc}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-taskTimer",
		Method:        http.MethodPost,
		Path:          base,
		Summary:       "Create a task timer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TimesheetRid string         `path:"timesheetRid"`
		Body         store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		return save(ctx, input.TimesheetRid, "", input.Body)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-taskTimer",
		Method:      http.MethodPost,
		Path:        base + "/{id}",
		Summary:     "Update a task timer",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TimesheetRid string         `path:"timesheetRid"`
		ID           string         `path:"id"`
		Body         store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		return save(ctx, input.TimesheetRid, input.ID, input.Body)
	})

	type transitionInput struct {
		TimesheetRid string `path:"timesheetRid"`
		ID           string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-taskTimer",
		Method:      http.MethodPost,
		Path:        base + "/{id}/start",
		Summary:     "Start a task timer, stopping any other running timer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *transitionInput) (*timerResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		timer, err := e.StartTimer(ctx, p, input.TimesheetRid, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &timerResponse{Body: timer}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-taskTimer",
		Method:      http.MethodPost,
		Path:        base + "/{id}/stop",
		Summary:     "Stop a running task timer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *transitionInput) (*timerResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		timer, err := e.StopTimer(ctx, p, input.TimesheetRid, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &timerResponse{Body: timer}, nil
	})
}
