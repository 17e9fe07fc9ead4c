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

	"tasktrail/internal/auth"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"capability delete_tasks required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"capability\":\"delete_tasks\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Tasktrail API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(newAuthMiddleware(basePath, cfg.Engine.Auth, cfg.Engine.Log))
	hcfg := huma.DefaultConfig("Tasktrail API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerBots(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerSubtasks(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerMaintenance(group, cfg.Engine)
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"capability": string(fe.Capability)})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicateTeamName):
		return newAPIError(http.StatusConflict, "duplicate_team_name", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyRequestedOrMember):
		return newAPIError(http.StatusConflict, "already_requested_or_member", err.Error(), nil)
	case errors.Is(err, engine.ErrNotTeamAdmin):
		return newAPIError(http.StatusForbidden, "not_team_admin", err.Error(), nil)
	case errors.Is(err, engine.ErrNoTransferTarget):
		return newAPIError(http.StatusUnprocessableEntity, "no_transfer_target", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already taken"), strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
		Type:   "http",
		Scheme: "bearer",
	}
	oas.Components.SecuritySchemes["cookieAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "cookie",
		Name: SessionCookie,
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"cookieAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):     true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
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
    <title>Tasktrail API Docs</title>
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
      Authenticate with the %s cookie or Authorization: Bearer bot_&lt;token&gt;.
    </p>
  </body>
</html>`, specURL, SessionCookie)
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

func registerAuth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in with username and password",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		SetCookie http.Cookie   `header:"Set-Cookie"`
		Body      LoginResponse `json:"body"`
	}, error) {
		if input.Body.Username == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "username and password are required", nil)
		}
		sess, u, err := e.Auth.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			SetCookie http.Cookie   `header:"Set-Cookie"`
			Body      LoginResponse `json:"body"`
		}{
			SetCookie: http.Cookie{
				Name:     SessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			},
			Body: LoginResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt, User: u},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Discard the current session",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Session http.Cookie `cookie:"tasktrail_session"`
	}) (*struct {
		SetCookie http.Cookie `header:"Set-Cookie"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Session.Value != "" {
			if err := e.Auth.Logout(ctx, input.Session.Value); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			SetCookie http.Cookie `header:"Set-Cookie"`
		}{SetCookie: http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ID:          p.ID,
			Username:    p.Username,
			FullName:    p.FullName,
			Type:        string(p.Type),
			TeamID:      p.EffectiveTeamID(),
			OwnerID:     p.OwnerID,
			Permissions: p.EffectivePermissions().Strings(),
		}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register a user account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Username: input.Body.Username,
			Email:    input.Body.Email,
			FullName: input.Body.FullName,
			Password: input.Body.Password,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-removal-plan",
		Method:      http.MethodGet,
		Path:        "/users/{id}/removal-plan",
		Summary:     "Preview what removing a user would touch",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.RemovalPlan `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetUser(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		plan, err := e.RemovalPlanFor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RemovalPlan `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Remove a user account",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RemovePrincipalRequest `json:"body" required:"false"`
	}) (*struct {
		Body RemovalResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		plan, err := e.RemoveUser(ctx, p, input.ID, engine.RemovalTarget{TransferTo: input.Body.TransferTo})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RemovalResponse `json:"body"`
		}{Body: RemovalResponse{Removed: input.ID, Plan: plan}}, nil
	})
}

func registerBots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-bot",
		Method:        http.MethodPost,
		Path:          "/bots",
		Summary:       "Create a bot account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateBotRequest `json:"body"`
	}) (*struct {
		Body BotCreatedResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		ownerID := input.Body.OwnerID
		if ownerID == "" && p.Type == auth.PrincipalHuman {
			ownerID = p.ID
		}
		b, err := e.CreateBot(ctx, p, engine.BotCreateOptions{
			Username:    input.Body.Username,
			OwnerID:     ownerID,
			Permissions: input.Body.Permissions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		token := b.APIToken
		return &struct {
			Body BotCreatedResponse `json:"body"`
		}{Body: BotCreatedResponse{Bot: b, APIToken: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bots",
		Method:      http.MethodGet,
		Path:        "/bots",
		Summary:     "List bots",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
	}) (*struct {
		Body []domain.Bot `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		bots, err := e.Repo.ListBots(ctx, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Bot `json:"body"`
		}{Body: bots}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bot",
		Method:      http.MethodGet,
		Path:        "/bots/{id}",
		Summary:     "Get bot",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		b, err := e.Repo.GetBot(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-bot-permissions",
		Method:      http.MethodPut,
		Path:        "/bots/{id}/permissions",
		Summary:     "Replace a bot's capability grants",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body SetBotPermissionsRequest `json:"body"`
	}) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		b, err := e.SetBotPermissions(ctx, p, input.ID, input.Body.Permissions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-bot",
		Method:      http.MethodDelete,
		Path:        "/bots/{id}",
		Summary:     "Remove a bot account",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RemovePrincipalRequest `json:"body" required:"false"`
	}) (*struct {
		Body RemovalResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		plan, err := e.RemoveBot(ctx, p, input.ID, engine.RemovalTarget{
			TransferTo:    input.Body.TransferTo,
			DeleteContent: input.Body.DeleteContent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RemovalResponse `json:"body"`
		}{Body: RemovalResponse{Removed: input.ID, Plan: plan}}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTeamRequest `json:"body"`
	}) (*struct {
		Body domain.Team `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Type != auth.PrincipalHuman {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only humans can create teams", nil)
		}
		t, err := e.CreateTeam(ctx, p, input.Body.Name, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Team `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/teams",
		Summary:     "List teams",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Team `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		teams, err := e.Repo.ListTeams(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Team `json:"body"`
		}{Body: teams}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/teams/{id}",
		Summary:     "Get team",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Team `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTeam(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Team `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-members",
		Method:      http.MethodGet,
		Path:        "/teams/{id}/members",
		Summary:     "List team members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetTeam(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListTeamMembers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: members}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-to-join-team",
		Method:        http.MethodPost,
		Path:          "/teams/{id}/requests",
		Summary:       "Request to join a team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TeamRequest `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if p.Type != auth.PrincipalHuman {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only humans can join teams", nil)
		}
		req, err := e.RequestToJoin(ctx, p, input.ID, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-requests",
		Method:      http.MethodGet,
		Path:        "/team-requests",
		Summary:     "List join requests",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamID string `query:"team_id"`
		UserID string `query:"user_id"`
		Status string `query:"status" enum:"pending,approved,rejected"`
	}) (*struct {
		Body []domain.TeamRequest `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		reqs, err := e.Repo.ListTeamRequests(ctx, repo.TeamRequestFilters{
			TeamID: input.TeamID,
			UserID: input.UserID,
			Status: input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamRequest `json:"body"`
		}{Body: reqs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-team-request",
		Method:      http.MethodPost,
		Path:        "/team-requests/{id}/approve",
		Summary:     "Approve a join request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TeamRequest `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.ApproveJoinRequest(ctx, p, input.ID, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-team-request",
		Method:      http.MethodPost,
		Path:        "/team-requests/{id}/reject",
		Summary:     "Reject a join request",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TeamRequest `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.RejectJoinRequest(ctx, p, input.ID, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-team-member",
		Method:      http.MethodDelete,
		Path:        "/teams/{id}/members/{user_id}",
		Summary:     "Remove a member from a team",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveUserFromTeam(ctx, p, input.UserID, p.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := e.CreateProject(ctx, p, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			TeamID:      input.Body.TeamID,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TeamID  string `query:"team_id"`
		OwnerID string `query:"owner_id"`
		Status  string `query:"status" enum:"active,archived"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		projects, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			TeamID:  input.TeamID,
			OwnerID: input.OwnerID,
			Status:  input.Status,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: projects}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		proj, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proj, err := e.UpdateProject(ctx, p, input.ID, engine.ProjectUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{id}",
		Summary:     "Delete project and its tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.DeleteSummary `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		summary, err := e.DeleteProject(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeleteSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, p, engine.TaskCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssignedTo:  input.Body.AssignedTo,
			OwnerID:     input.Body.OwnerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		TeamID     string `query:"team_id"`
		OwnerID    string `query:"owner_id"`
		AssignedTo string `query:"assigned_to"`
		Status     string `query:"status" enum:"pending,in-progress,done"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			TeamID:     input.TeamID,
			OwnerID:    input.OwnerID,
			AssignedTo: input.AssignedTo,
			Status:     input.Status,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, p, input.ID, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			AssignedTo:  input.Body.AssignedTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task and its subtasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.DeleteSummary `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		summary, err := e.DeleteTask(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DeleteSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerSubtasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/subtasks",
		Summary:       "Create subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateSubtaskRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSubtask(ctx, p, engine.SubtaskCreateOptions{
			TaskID:     input.Body.TaskID,
			Type:       input.Body.Type,
			Question:   input.Body.Question,
			Options:    input.Body.Options,
			AssignedTo: input.Body.AssignedTo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/subtasks",
		Summary:     "List subtasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TaskID     string `query:"task_id"`
		AssignedTo string `query:"assigned_to"`
		Answered   *bool  `query:"answered"`
	}) (*struct {
		Body []domain.Subtask `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		subs, err := e.Repo.ListSubtasks(ctx, repo.SubtaskFilters{
			TaskID:     input.TaskID,
			AssignedTo: input.AssignedTo,
			Answered:   input.Answered,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Subtask `json:"body"`
		}{Body: subs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subtask",
		Method:      http.MethodGet,
		Path:        "/subtasks/{id}",
		Summary:     "Get subtask",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Repo.GetSubtask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-subtask",
		Method:      http.MethodPost,
		Path:        "/subtasks/{id}/answer",
		Summary:     "Answer subtask",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AnswerSubtaskRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AnswerSubtask(ctx, p, input.ID, input.Body.Answer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-subtask",
		Method:      http.MethodPost,
		Path:        "/subtasks/{id}/assign",
		Summary:     "Assign subtask",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AssignSubtaskRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AssignSubtask(ctx, p, input.ID, input.Body.AssignedTo)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-subtask",
		Method:      http.MethodDelete,
		Path:        "/subtasks/{id}",
		Summary:     "Delete subtask",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSubtask(ctx, p, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "recent-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Recent activity",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ActivityEntry `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.Repo.RecentActivity(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActivityEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-updates",
		Method:      http.MethodGet,
		Path:        "/activity/updates",
		Summary:     "Activity by others since a timestamp",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since" format:"date-time"`
	}) (*struct {
		Body []domain.ActivityEntry `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		if input.Since == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "since is required", nil)
		}
		entries, err := e.Repo.ActivitySince(ctx, input.Since, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActivityEntry `json:"body"`
		}{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-mine",
		Method:      http.MethodGet,
		Path:        "/activity/mine",
		Summary:     "Activity on entities assigned to the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since" format:"date-time"`
	}) (*struct {
		Body []domain.ActivityEntry `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapRead); err != nil {
			return nil, handleError(err)
		}
		if input.Since == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "since is required", nil)
		}
		entries, err := e.Repo.ActivityAssignedToUser(ctx, p.ID, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActivityEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerMaintenance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "orphan-sweep",
		Method:      http.MethodPost,
		Path:        "/maintenance/sweep",
		Summary:     "Delete orphaned tasks and subtasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.SweepReport `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		report, err := e.OrphanSweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SweepReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup-sessions",
		Method:      http.MethodPost,
		Path:        "/maintenance/sessions/cleanup",
		Summary:     "Delete expired sessions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionCleanupResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.Require(p, auth.CapAdmin); err != nil {
			return nil, handleError(err)
		}
		n, err := e.CleanupSessions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionCleanupResponse `json:"body"`
		}{Body: SessionCleanupResponse{Deleted: n}}, nil
	})
}
