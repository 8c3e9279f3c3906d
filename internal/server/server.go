package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"daybook/internal/engine"
	"daybook/internal/engine/access"
	"daybook/internal/resource"
	"daybook/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type requestKey struct{}

// apiError is the 4xx/5xx envelope: {"reason": "..."}.
type apiError struct {
	status int
	Reason string `json:"reason"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Reason }

func newAPIError(status int, reason string) huma.StatusError {
	return &apiError{status: status, Reason: reason}
}

// New returns an HTTP handler exposing the Daybook API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema-level request validation surfaces as a plain 400.
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Expose the raw request so list handlers can read arbitrary
			// query-string filters.
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Daybook API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerVersions(group)
	registerLogin(group, cfg.Engine, cfg.Auth)
	registerCurrentUser(group, cfg.Engine)
	for _, def := range resource.All(cfg.Engine.Store) {
		registerResource(group, cfg.Engine, def)
	}
	registerUsers(group, cfg.Engine)
	registerTaskTimers(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe access.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, fe.Error())
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, ve.Reason)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not found")
	}
	// Store failures must not leak internals.
	return newAPIError(http.StatusInternalServerError, "internal error")
}

// queryFilters reads the request's query string as exact-match criteria.
func queryFilters(ctx context.Context) store.Clause {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok {
		return nil
	}
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	filters := store.Clause{}
	for field := range values {
		filters[field] = filterValue(values.Get(field))
	}
	return filters
}

// filterValue coerces boolean literals so flag fields like isActive are
// filterable. Numbers stay text: a numeric-looking string field (postal
// codes) must not silently change type.
func filterValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	default:
		return v
	}
}

type documentResponse struct {
	Body store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
}

type documentListResponse struct {
	Body []store.Document `json:"body"`
}

// registerResource wires the generic CRUD surface for one resource kind.
func registerResource(api huma.API, e engine.Engine, def resource.Def) {
	name := def.Name

	huma.Register(api, huma.Operation{
		OperationID: "list-" + name,
		Method:      http.MethodGet,
		Path:        "/" + name,
		Summary:     "List " + name,
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
		OperationID: "get-" + name,
		Method:      http.MethodGet,
		Path:        "/" + name + "/{id}",
		Summary:     "Get one of " + name,
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.GetOne(ctx, def.Definition, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + name,
		Method:        http.MethodPost,
		Path:          "/" + name,
		Summary:       "Create " + name,
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, _, err := e.Save(ctx, def.Definition, p, "", input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-" + name,
		Method:      http.MethodPost,
		Path:        "/" + name + "/{id}",
		Summary:     "Update " + name,
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body store.Document `json:"body" jsonschema:"type=object,additionalProperties=true"`
	}) (*documentResponse, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, _, err := e.Save(ctx, def.Definition, p, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentResponse{Body: doc}, nil
	})

	if !def.Deletable {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "delete-" + name,
		Method:      http.MethodDelete,
		Path:        "/" + name + "/{id}",
		Summary:     "Delete " + name,
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Remove(ctx, def.Definition, p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type release struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Notes   string `json:"notes,omitempty"`
}

// releaseHistory backs the public version listing, newest first.
var releaseHistory = []release{
	{Version: "1.0.0", Date: "2026-08-31", Notes: "first release"},
}

func registerVersions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "versions",
		Method:      http.MethodGet,
		Path:        "/versions",
		Summary:     "Release history",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []release `json:"body"`
	}, error) {
		return &struct {
			Body []release `json:"body"`
		}{Body: releaseHistory}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Daybook API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; from POST /login.
    </p>
  </body>
</html>`, specURL)
}
