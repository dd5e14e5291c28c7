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

	"siteproof/internal/blob"
	"siteproof/internal/domain"
	"siteproof/internal/engine"
	"siteproof/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal transition signed -> draft"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SiteProof API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("SiteProof API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDirectory(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerWorkUnits(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerSignatures(group, cfg.Engine)
	registerPackages(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ite engine.IllegalTransitionError
	if errors.As(err, &ite) {
		details := map[string]any{"from": ite.From, "to": ite.To}
		if ite.Reason != "" {
			details["reason"] = ite.Reason
		}
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), details)
	}
	var vfe engine.ValidationFailedError
	if errors.As(err, &vfe) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"errors":   vfe.Errors,
			"warnings": vfe.Warnings,
		})
	}
	var dre engine.DuplicateRuleError
	if errors.As(err, &dre) {
		return newAPIError(http.StatusConflict, "duplicate_rule", err.Error(), map[string]any{
			"work_category": dre.WorkCategory,
			"document_kind": dre.DocumentKind,
			"trigger_event": dre.TriggerEvent,
		})
	}
	var dae engine.DuplicateAssignmentError
	if errors.As(err, &dae) {
		return newAPIError(http.StatusConflict, "duplicate_assignment", err.Error(), map[string]any{
			"project_id": dae.ProjectID,
			"role":       dae.Role,
		})
	}
	var die engine.DuplicateItemError
	if errors.As(err, &die) {
		return newAPIError(http.StatusConflict, "duplicate_item", err.Error(), map[string]any{
			"package_id":  die.PackageID,
			"document_id": die.DocumentID,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, blob.ErrUnavailable) {
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "assigned to a different person"),
		strings.Contains(lowered, "no assigned person"),
		strings.Contains(lowered, "already signed"),
		strings.Contains(lowered, "already rejected"):
		return newAPIError(http.StatusConflict, "signature_conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "before package") || strings.Contains(lowered, "after package"):
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
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	security := []map[string][]string{{"bearerAuth": {}}}
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
    <title>SiteProof API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerDirectory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-person",
		Method:        http.MethodPost,
		Path:          "/persons",
		Summary:       "Register person",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreatePersonRequest `json:"body"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		p, err := e.CreatePerson(ctx, domain.Person{
			Name:         input.Body.Name,
			Organization: input.Body.Organization,
			Position:     input.Body.Position,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-role",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/roles",
		Summary:       "Assign project role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AssignRoleRequest `json:"body"`
	}) (*struct {
		Body domain.RoleAssignment `json:"body"`
	}, error) {
		a, err := e.AssignRole(ctx, input.ProjectID, input.Body.Role, input.Body.PersonID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RoleAssignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/roles",
		Summary:     "List project role assignments",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.RoleAssignment `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoleAssignments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RoleAssignment `json:"body"`
		}{Body: items}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Add matrix rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.MatrixRule `json:"body"`
	}, error) {
		rule, err := e.AddRule(ctx, domain.MatrixRule{
			ProjectID:           input.Body.ProjectID,
			WorkCategory:        input.Body.WorkCategory,
			DocumentKind:        input.Body.DocumentKind,
			TriggerEvent:        input.Body.TriggerEvent,
			PreparerRole:        input.Body.PreparerRole,
			CheckerRole:         input.Body.CheckerRole,
			SignerRoles:         input.Body.SignerRoles,
			RequiredAttachments: input.Body.RequiredAttachments,
			LinkedLogCategory:   input.Body.LinkedLogCategory,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MatrixRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List matrix rules",
	}, func(ctx context.Context, input *struct {
		ProjectID    string `query:"project_id"`
		WorkCategory string `query:"work_category"`
		DocumentKind string `query:"document_kind"`
		ActiveOnly   bool   `query:"active_only"`
	}) (*struct {
		Body []domain.MatrixRule `json:"body"`
	}, error) {
		items, err := e.Repo.ListRules(ctx, repo.RuleFilters{
			ProjectID:    input.ProjectID,
			WorkCategory: input.WorkCategory,
			DocumentKind: input.DocumentKind,
			ActiveOnly:   input.ActiveOnly,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MatrixRule `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seed-rules",
		Method:      http.MethodPost,
		Path:        "/rules/seed",
		Summary:     "Seed matrix rules from config",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		n, err := e.SeedMatrix(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"created": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-rule-active",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}/active",
		Summary:     "Activate or deactivate a rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SetRuleActiveRequest `json:"body"`
	}) (*struct{}, error) {
		if err := e.SetRuleActive(ctx, input.ID, input.Body.Active); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-unit",
		Method:        http.MethodPost,
		Path:          "/work-units",
		Summary:       "Register work unit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkUnitRequest `json:"body"`
	}) (*struct {
		Body domain.WorkUnit `json:"body"`
	}, error) {
		w, err := e.CreateWorkUnit(ctx, domain.WorkUnit{
			ProjectID: input.Body.ProjectID,
			Category:  input.Body.Category,
			Title:     input.Body.Title,
			Location:  input.Body.Location,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkUnit `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-material",
		Method:        http.MethodPost,
		Path:          "/work-units/{id}/materials",
		Summary:       "Record material used by a work unit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AddMaterialRequest `json:"body"`
	}) (*struct {
		Body domain.Material `json:"body"`
	}, error) {
		m, err := e.AddMaterial(ctx, domain.Material{
			WorkUnitID: input.ID,
			Name:       input.Body.Name,
			Quantity:   input.Body.Quantity,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Material `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-certificate",
		Method:        http.MethodPost,
		Path:          "/materials/{id}/certificates",
		Summary:       "Attach certificate to a material",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AddCertificateRequest `json:"body"`
	}) (*struct {
		Body domain.Certificate `json:"body"`
	}, error) {
		c, err := e.AddCertificate(ctx, domain.Certificate{
			MaterialID: input.ID,
			Number:     input.Body.Number,
			FileName:   input.Body.FileName,
			FilePath:   input.Body.FilePath,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Certificate `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-trigger",
		Method:      http.MethodPost,
		Path:        "/work-units/{id}/trigger",
		Summary:     "Apply trigger event to a work unit",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body TriggerRequest `json:"body"`
	}) (*struct {
		Body engine.ApplyResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApplyTrigger(ctx, input.ID, input.Body.Event, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ApplyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "missing-documents",
		Method:      http.MethodGet,
		Path:        "/work-units/{id}/missing",
		Summary:     "Preview documents a trigger would create",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Event string `query:"event"`
	}) (*struct {
		Body []domain.MatrixRule `json:"body"`
	}, error) {
		if input.Event == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "event is required", nil)
		}
		rules, err := e.MissingDocuments(ctx, input.ID, input.Event)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MatrixRule `json:"body"`
		}{Body: rules}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		WorkUnitID string `query:"work_unit_id"`
		Kind       string `query:"kind"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{
			ProjectID:  input.ProjectID,
			WorkUnitID: input.WorkUnitID,
			Kind:       input.Kind,
			Status:     input.Status,
			Limit:      input.Limit,
		})
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
		Path:        "/documents/{id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if d.DeletedAt != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "document not found", nil)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document-fields",
		Method:      http.MethodPatch,
		Path:        "/documents/{id}/fields",
		Summary:     "Replace document fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateFieldsRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := json.Marshal(input.Body.Fields)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid fields", nil)
		}
		d, err := e.UpdateDocumentFields(ctx, input.ID, string(data), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-attachment",
		Method:        http.MethodPost,
		Path:          "/documents/{id}/attachments",
		Summary:       "Attach evidence file to a document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AddAttachmentRequest `json:"body"`
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		a, err := e.AddAttachment(ctx, domain.Attachment{
			DocumentID: input.ID,
			Category:   input.Body.Category,
			FileName:   input.Body.FileName,
			FilePath:   input.Body.FilePath,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allowed-transitions",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/allowed-transitions",
		Summary:     "Legal next statuses",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		next, err := e.AllowedTransitions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: next}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/transition",
		Summary:     "Move document to a new status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Transition(ctx, input.ID, input.Body.To, actorID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-transition-documents",
		Method:      http.MethodPost,
		Path:        "/documents/transition",
		Summary:     "Move several documents, each judged on its own",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BulkTransitionRequest `json:"body"`
	}) (*struct {
		Body []engine.TransitionOutcome `json:"body"`
	}, error) {
		if input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", nil)
		}
		if len(input.Body.DocumentIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "document_ids must not be empty", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcomes := e.BulkTransition(ctx, input.Body.DocumentIDs, input.Body.To, actorID, input.Body.Comment)
		return &struct {
			Body []engine.TransitionOutcome `json:"body"`
		}{Body: outcomes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/validation",
		Summary:     "Run validation checks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ValidationResult `json:"body"`
	}, error) {
		res, err := e.Validate(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ValidationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-transitions",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/transitions",
		Summary:     "Workflow history, accepted and rejected attempts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.WorkflowTransition `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTransitions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowTransition `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "supersede-document",
		Method:        http.MethodPost,
		Path:          "/documents/{id}/supersede",
		Summary:       "Create the next revision as a fresh draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Supersede(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{id}",
		Summary:     "Soft-delete document",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SoftDeleteDocument(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSignatures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-signatures",
		Method:      http.MethodGet,
		Path:        "/documents/{id}/signatures",
		Summary:     "List signature seats",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Signature `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDocument(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSignatures(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Signature `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-signature",
		Method:      http.MethodPost,
		Path:        "/signatures/{id}/assign",
		Summary:     "Assign a person to a pending seat",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body AssignSignatureRequest `json:"body"`
	}) (*struct {
		Body domain.Signature `json:"body"`
	}, error) {
		if input.Body.PersonID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "person_id is required", nil)
		}
		sig, err := e.AssignSignature(ctx, input.ID, input.Body.PersonID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signature `json:"body"`
		}{Body: sig}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-signature",
		Method:      http.MethodPost,
		Path:        "/signatures/{id}/sign",
		Summary:     "Sign a seat",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body SignRequest `json:"body"`
	}) (*struct {
		Body domain.Signature `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sig, err := e.Sign(ctx, input.ID, actorID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signature `json:"body"`
		}{Body: sig}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-signature",
		Method:      http.MethodPost,
		Path:        "/signatures/{id}/reject",
		Summary:     "Reject a seat, sending the document back for revision",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RejectRequest `json:"body"`
	}) (*struct {
		Body domain.Signature `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sig, err := e.Reject(ctx, input.ID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Signature `json:"body"`
		}{Body: sig}, nil
	})
}

func registerPackages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-package",
		Method:        http.MethodPost,
		Path:          "/packages",
		Summary:       "Open a draft handover package",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePackageRequest `json:"body"`
	}) (*struct {
		Body domain.Package `json:"body"`
	}, error) {
		p, err := e.CreatePackage(ctx, domain.Package{
			ProjectID: input.Body.ProjectID,
			Title:     input.Body.Title,
			DateFrom:  input.Body.DateFrom,
			DateTo:    input.Body.DateTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Package `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-package",
		Method:      http.MethodGet,
		Path:        "/packages/{id}",
		Summary:     "Get package",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Package `json:"body"`
	}, error) {
		p, err := e.Repo.GetPackage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Package `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-packages",
		Method:      http.MethodGet,
		Path:        "/packages",
		Summary:     "List packages for a project",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []domain.Package `json:"body"`
	}, error) {
		if input.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		items, err := e.Repo.ListPackages(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Package `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-package-item",
		Method:        http.MethodPost,
		Path:          "/packages/{id}/items",
		Summary:       "Place a document into a draft package",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AddPackageItemRequest `json:"body"`
	}) (*struct {
		Body domain.PackageItem `json:"body"`
	}, error) {
		item, err := e.AddPackageItem(ctx, input.ID, input.Body.DocumentID, input.Body.Folder)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PackageItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-package-items",
		Method:      http.MethodGet,
		Path:        "/packages/{id}/items",
		Summary:     "List package items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.PackageItem `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPackage(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPackageItems(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PackageItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-package",
		Method:      http.MethodPost,
		Path:        "/packages/{id}/build",
		Summary:     "Assemble the archive and inventory",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.BuildResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BuildPackage(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BuildResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deliver-package",
		Method:      http.MethodPost,
		Path:        "/packages/{id}/deliver",
		Summary:     "Mark a ready package as handed over",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Package `json:"body"`
	}, error) {
		p, err := e.DeliverPackage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Package `json:"body"`
		}{Body: p}, nil
	})
}
