package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/resource"
	"daybook/internal/store"
)

// registerUsers wires the user management surface. Listing and creating
// users is an administrator operation; a user may read their own record and
// change their own password.
func registerUsers(api huma.API, e engine.Engine) {
	def := resource.Users()

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*documentListResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.List(ctx, def.Definition, p, queryFilters(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &documentListResponse{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get a user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.HasRole(domain.RoleAdmin) && p.ID != input.ID {
			return nil, newAPIError(http.StatusForbidden, "role admin required")
		}
		user, err := e.Store.Collection(domain.Users).FindOne(ctx, store.ByID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: resource.SanitizeUser(user)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.HasRole(domain.RoleAdmin) {
			return nil, newAPIError(http.StatusForbidden, "role admin required")
		}
		body := input.Body.Clone()
		delete(body, store.FieldID)
		if err := resource.ValidateUser(body); err != nil {
			return nil, handleError(err)
		}
		if err := resource.EnsureUniqueUsername(ctx, e.Store, body); err != nil {
			return nil, handleError(err)
		}
		password, _ := body["password"].(string)
		delete(body, "password")
		if err := resource.SetPassword(body, password); err != nil {
			return nil, handleError(err)
		}
		saved, _, err := e.Store.Collection(domain.Users).Save(ctx, body)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: resource.SanitizeUser(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPost,
		Path:        "/users/{id}",
		Summary:     "Update a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		isAdmin := p.HasRole(domain.RoleAdmin)
		if !isAdmin && p.ID != input.ID {
			return nil, newAPIError(http.StatusForbidden, "role admin required")
		}
		users := e.Store.Collection(domain.Users)
		existing, err := users.FindOne(ctx, store.ByID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		body := input.Body.Clone()
		body[store.FieldID] = input.ID
		if err := resource.ValidateUser(body); err != nil {
			return nil, handleError(err)
		}
		if err := resource.EnsureUniqueUsername(ctx, e.Store, body); err != nil {
			return nil, handleError(err)
		}
		// Only profile fields change here; credentials go through the
		// password endpoint and roles may only be granted by an admin.
		updated := existing.Clone()
		for _, field := range []string{"firstName", "lastName", "username"} {
			updated[field] = body[field]
		}
		if isAdmin {
			if roles, ok := body["roles"]; ok {
				updated["roles"] = roles
			}
		}
		saved, _, err := users.Save(ctx, updated)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: resource.SanitizeUser(saved)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-password",
		Method:      http.MethodPost,
		Path:        "/users/{id}/password",
		Summary:     "Change a user's password",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Password    string `json:"password"`
			NewPassword string `json:"newPassword"`
		} `json:"body"`
	}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.HasRole(domain.RoleAdmin) && p.ID != input.ID {
			return nil, newAPIError(http.StatusForbidden, "role admin required")
		}
		users := e.Store.Collection(domain.Users)
		user, err := users.FindOne(ctx, store.ByID(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		if !resource.PasswordIsValid(user, input.Body.Password) {
			return nil, newAPIError(http.StatusForbidden, "Invalid Password")
		}
		user = user.Clone()
		if err := resource.SetPassword(user, input.Body.NewPassword); err != nil {
			return nil, handleError(err)
		}
		if _, _, err := users.Save(ctx, user); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
