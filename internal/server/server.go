package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/generate"
	"specline/internal/repo"
	"specline/internal/resolve"
)

// Config for the HTTP API handler.
type Config struct {
	Processor    resolve.Processor
	Orchestrator generate.Orchestrator
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"meeting already resolved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"meeting_id\":\"mtg-1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Specline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				// Streaming endpoints read the body themselves.
				next.ServeHTTP(w, r)
				return
			}
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Processor.Repo))
	hcfg := huma.DefaultConfig("Specline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Processor)
	registerMeetings(group, cfg.Processor)
	registerBaseline(group, cfg.Processor)
	registerDocuments(group, cfg.Orchestrator)
	registerEvents(group, cfg.Processor)
	registerGenerateStream(router, basePath, cfg.Orchestrator)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pe *domain.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusConflict, "precondition_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown category") ||
		strings.Contains(lowered, "unhandled decision kind"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Specline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerProjects(api huma.API, p resolve.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id := ""
		if input.Body.ID != nil {
			id = *input.Body.ID
		}
		proj, err := p.InitProject(ctx, id, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(proj)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := p.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		proj, err := p.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(proj)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		proj, err := p.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		unresolved, err := p.Repo.CountUnresolvedMeetings(ctx, proj.ID)
		if err != nil {
			return nil, handleError(err)
		}
		active, err := p.Repo.CountActiveBaselineEntries(ctx, proj.ID)
		if err != nil {
			return nil, handleError(err)
		}
		finalized, err := p.Repo.CountFinalizedDocuments(ctx, proj.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":          proj.ID,
			"status":              proj.Status,
			"requirements_stage":  proj.RequirementsStage,
			"unresolved_meetings": unresolved,
			"active_entries":      active,
			"finalized_documents": finalized,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		cfg, err := p.Repo.GetProjectConfig(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerMeetings(api huma.API, p resolve.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-meeting",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/meetings",
		Summary:       "Import meeting",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      ImportMeetingRequest `json:"body"`
	}) (*struct {
		Body MeetingResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		meeting, items, err := p.ImportMeeting(ctx, resolve.MeetingImportOptions{
			ProjectID:  input.ProjectID,
			Title:      input.Body.Title,
			OccurredAt: input.Body.OccurredAt,
			Items:      candidateInputs(input.Body.Items),
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeetingResponse `json:"body"`
		}{Body: MeetingResponse{Meeting: meeting, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meetings",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/meetings",
		Summary:     "List meetings",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.Meeting `json:"body"`
	}, error) {
		items, err := p.Repo.ListMeetings(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Meeting `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-meeting",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}",
		Summary:     "Get meeting with candidate items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body MeetingResponse `json:"body"`
	}, error) {
		meeting, err := p.Repo.GetMeeting(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := p.Repo.ListCandidateItems(ctx, meeting.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeetingResponse `json:"body"`
		}{Body: MeetingResponse{Meeting: meeting, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{meeting_id}/review",
		Summary:     "Classify candidate items against the baseline",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body []resolve.Proposal `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		proposals, err := p.ReviewMeeting(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []resolve.Proposal `json:"body"`
		}{Body: proposals}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-meeting",
		Method:      http.MethodPost,
		Path:        "/meetings/{meeting_id}/resolve",
		Summary:     "Apply resolution decisions to the baseline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MeetingID string                `path:"meeting_id"`
		Body      ResolveMeetingRequest `json:"body"`
	}) (*struct {
		Body ResolveMeetingResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		meeting, err := p.Repo.GetMeeting(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		summary, err := p.Resolve(ctx, resolve.ResolveOptions{
			ProjectID: meeting.ProjectID,
			MeetingID: meeting.ID,
			Decisions: decisionInputs(input.Body.Decisions),
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveMeetingResponse `json:"body"`
		}{Body: ResolveMeetingResponse{Summary: summary}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-meeting-decisions",
		Method:      http.MethodGet,
		Path:        "/meetings/{meeting_id}/decisions",
		Summary:     "List decisions recorded for a meeting",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MeetingID string `path:"meeting_id"`
	}) (*struct {
		Body []domain.Decision `json:"body"`
	}, error) {
		if _, err := p.Repo.GetMeeting(ctx, input.MeetingID); err != nil {
			return nil, handleError(err)
		}
		items, err := p.Repo.ListDecisions(ctx, input.MeetingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Decision `json:"body"`
		}{Body: items}, nil
	})
}

func registerBaseline(api huma.API, p resolve.Processor) {
	huma.Register(api, huma.Operation{
		OperationID: "list-baseline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/baseline",
		Summary:     "List baseline entries",
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		IncludeInactive bool   `query:"include_inactive"`
	}) (*struct {
		Body []domain.BaselineEntry `json:"body"`
	}, error) {
		items, err := p.Repo.ListBaselineEntries(ctx, input.ProjectID, !input.IncludeInactive)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.BaselineEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-baseline-entry",
		Method:      http.MethodGet,
		Path:        "/baseline/{entry_id}",
		Summary:     "Get baseline entry with provenance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntryID string `path:"entry_id"`
	}) (*struct {
		Body BaselineEntryResponse `json:"body"`
	}, error) {
		entry, err := p.Repo.GetBaselineEntry(ctx, input.EntryID)
		if err != nil {
			return nil, handleError(err)
		}
		prov, err := p.Repo.ListProvenance(ctx, entry.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BaselineEntryResponse `json:"body"`
		}{Body: BaselineEntryResponse{Entry: entry, Provenance: prov}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "baseline-entry-history",
		Method:      http.MethodGet,
		Path:        "/baseline/{entry_id}/history",
		Summary:     "Baseline entry history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntryID string `path:"entry_id"`
	}) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		if _, err := p.Repo.GetBaselineEntry(ctx, input.EntryID); err != nil {
			return nil, handleError(err)
		}
		items, err := p.Repo.ListHistory(ctx, input.EntryID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-baseline-entry",
		Method:      http.MethodPost,
		Path:        "/baseline/{entry_id}/deactivate",
		Summary:     "Deactivate baseline entry",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EntryID string `path:"entry_id"`
	}) (*struct {
		Body domain.BaselineEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := p.DeactivateEntry(ctx, input.EntryID, actorID); err != nil {
			return nil, handleError(err)
		}
		entry, err := p.Repo.GetBaselineEntry(ctx, input.EntryID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BaselineEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reactivate-baseline-entry",
		Method:      http.MethodPost,
		Path:        "/baseline/{entry_id}/reactivate",
		Summary:     "Reactivate baseline entry",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EntryID string `path:"entry_id"`
	}) (*struct {
		Body domain.BaselineEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := p.ReactivateEntry(ctx, input.EntryID, actorID); err != nil {
			return nil, handleError(err)
		}
		entry, err := p.Repo.GetBaselineEntry(ctx, input.EntryID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BaselineEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerDocuments(api huma.API, o generate.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := o.Repo.ListDocuments(ctx, input.ProjectID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document with sections",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		doc, err := o.GetDocumentWithSections(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/cancel",
		Summary:     "Cancel an in-flight generation",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := o.CancelDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		doc, err := o.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/archive",
		Summary:     "Archive a finalized document",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := o.ArchiveDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		doc, err := o.Repo.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "regenerate-section",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/sections/{section_id}/regenerate",
		Summary:     "Regenerate one section of a finalized document",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
		SectionID  string `path:"section_id"`
	}) (*struct {
		Body generate.RegenerateResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := o.RegenerateSection(ctx, generate.RegenerateOptions{
			DocumentID: input.DocumentID,
			SectionID:  input.SectionID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body generate.RegenerateResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, p resolve.Processor) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Project audit log",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		items, err := p.Repo.ListEvents(ctx, input.ProjectID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

// registerGenerateStream mounts the generation endpoint directly on the chi
// router. Generation streams progress as server-sent events, which Huma's
// request/response model does not fit.
func registerGenerateStream(router chi.Router, basePath string, o generate.Orchestrator) {
	route := path.Join(basePath, "/projects/{project_id}/documents")
	router.Post(route, func(w http.ResponseWriter, r *http.Request) {
		actorID, authErr := actorIDFromContext(r.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		var body GenerateDocumentRequest
		raw := bodyBytes(r.Context())
		if len(raw) == 0 {
			raw, _ = io.ReadAll(r.Body)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid body", map[string]any{"error": err.Error()}))
				return
			}
		}

		stream, err := newSSEWriter(w)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil))
			return
		}
		var mu sync.Mutex
		_, genErr := o.Generate(r.Context(), generate.GenerateOptions{
			ProjectID: chi.URLParam(r, "project_id"),
			Mode:      body.Mode,
			ActorID:   actorID,
			OnEvent: func(ev generate.Event) {
				mu.Lock()
				defer mu.Unlock()
				if !stream.started {
					stream.init()
				}
				stream.writeEvent(ev.Type, ev)
			},
		})
		if genErr != nil {
			mu.Lock()
			defer mu.Unlock()
			if !stream.started {
				respondStatusError(w, handleError(genErr))
				return
			}
			stream.writeEvent("error", map[string]string{"error": genErr.Error()})
		}
	})
}
