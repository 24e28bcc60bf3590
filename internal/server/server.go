package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"wrong_day"`
	Message string         `json:"message" example:"cannot record task outcome on day 3; active day is 5"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Dayline API.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Dayline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerDays(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerNavigation(group, cfg.Engine)
	registerAchievements(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
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
	var wrongDay domain.WrongDayError
	if errors.As(err, &wrongDay) {
		return newAPIError(http.StatusConflict, "wrong_day", err.Error(), map[string]any{
			"viewing_day": wrongDay.ViewingDay,
			"active_day":  wrongDay.ActiveDay,
		})
	}
	var locked domain.DayLockedError
	if errors.As(err, &locked) {
		return newAPIError(http.StatusConflict, "day_locked", err.Error(), map[string]any{"day": locked.Day})
	}
	var unknownTask domain.UnknownTaskError
	if errors.As(err, &unknownTask) {
		return newAPIError(http.StatusBadRequest, "unknown_task", err.Error(), map[string]any{"task_id": unknownTask.TaskID})
	}
	if errors.Is(err, domain.ErrProgramComplete) {
		return newAPIError(http.StatusConflict, "program_complete", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireUser checks that the authenticated principal acts on its own data.
func requireUser(ctx context.Context, userID string) huma.StatusError {
	principal, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return authErr
	}
	if principal != userID {
		return newAPIError(http.StatusForbidden, "forbidden", "cannot act on another user's program", nil)
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
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
    <title>Dayline API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({
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

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Start a user on a program",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if input.Body.Variant == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "variant is required", nil)
		}
		start := time.Now().UTC()
		if input.Body.StartDate != nil {
			parsed, err := time.Parse(time.RFC3339, *input.Body.StartDate)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "start_date must be RFC3339", nil)
			}
			start = parsed
		}
		p, err := e.CreateProfile(ctx, input.Body.UserID, input.Body.Variant, start)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/state",
		Summary:     "Program state and viewing day",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		state, err := e.State(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		day, err := e.ViewingDay(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{State: state, Day: day}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-user",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/reset",
		Summary:     "Wipe all progress",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		if err := e.Reset(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDays(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-day",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/days/{day}",
		Summary:     "Tasks and outcomes for an unlocked day",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Day    int    `path:"day" minimum:"1"`
	}) (*struct {
		Body domain.DayView `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		view, err := e.Day(ctx, input.UserID, input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DayView `json:"body"`
		}{Body: view}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/tasks/{task_id}/complete",
		Summary:     "Record a completion on the active day",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		TaskID string `path:"task_id"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		res, err := e.CompleteTask(ctx, input.UserID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: OutcomeResponse{State: res.State, Day: res.Day, NewlyUnlocked: res.NewlyUnlocked}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-task",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/tasks/{task_id}/skip",
		Summary:     "Record an explicit skip on the active day",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string          `path:"user_id"`
		TaskID string          `path:"task_id"`
		Body   SkipTaskRequest `json:"body"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		res, err := e.SkipTask(ctx, input.UserID, input.TaskID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: OutcomeResponse{State: res.State, Day: res.Day, NewlyUnlocked: res.NewlyUnlocked}}, nil
	})
}

func registerNavigation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "navigate",
		Method:      http.MethodPost,
		Path:        "/users/{user_id}/navigate",
		Summary:     "Move the viewing day",
		Description: "Out-of-range targets are not errors; the response carries moved=false and the unchanged state.",
		Errors:      []int{http.StatusNotFound, http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string          `path:"user_id"`
		Body   NavigateRequest `json:"body"`
	}) (*struct {
		Body NavigateResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		var (
			state domain.ProgramState
			moved bool
			err   error
		)
		switch {
		case input.Body.Day != nil:
			state, moved, err = e.NavigateToDay(ctx, input.UserID, *input.Body.Day)
		case input.Body.Direction == "previous":
			state, moved, err = e.NavigatePrevious(ctx, input.UserID)
		case input.Body.Direction == "next":
			state, moved, err = e.NavigateNext(ctx, input.UserID)
		case input.Body.Direction == "today":
			state, err = e.GoToToday(ctx, input.UserID)
			moved = err == nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "day or direction is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NavigateResponse `json:"body"`
		}{Body: NavigateResponse{State: state, Moved: moved}}, nil
	})
}

func registerAchievements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-achievements",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/achievements",
		Summary:     "Achievements with unlock status and progress",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body AchievementsResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		statuses, err := e.Achievements(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AchievementsResponse `json:"body"`
		}{Body: AchievementsResponse{Achievements: statuses}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "Recent audit events, newest first",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" minimum:"0" default:"50"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, input.UserID); err != nil {
			return nil, err
		}
		evts, err := e.Repo.ListEvents(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: evts}}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	if !auth.EnableDevLogin || strings.TrimSpace(auth.JWTSecret) == "" {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development JWT",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			UserID string `json:"user_id"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := issueJWT(input.Body.UserID, auth.JWTSecret, time.Now(), 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": token}}, nil
	})
}
