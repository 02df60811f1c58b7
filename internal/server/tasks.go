package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"constellation/internal/domain"
	"constellation/internal/engine"
)

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, who, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
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
		Description: "Newest updated first. Pass next_cursor back as cursor for the following page.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Archived string `query:"archived" enum:"true,false"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		archived, qErr := parseBoolQuery("archived", input.Archived)
		if qErr != nil {
			return nil, qErr
		}
		limit := normalizeLimit(input.Limit)
		cursorUpdated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.ListTasks(ctx, who, engine.TaskListOptions{
			Archived:        archived,
			CursorUpdatedAt: cursorUpdated,
			CursorID:        cursorID,
			Limit:           limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []domain.Task{}}
		if len(tasks) > limit {
			tasks = tasks[:limit]
			last := tasks[limit-1]
			resp.NextCursor = composeCursor(last.UpdatedAt, last.ID)
		}
		resp.Items = nonNilSlice(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/recent",
		Summary:     "Most recently updated tasks",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"5" maximum:"200"`
	}) (*struct {
		Body listResponse[domain.Task] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.RecentTasks(ctx, who, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Task] `json:"body"`
		}{Body: listResponse[domain.Task]{Items: nonNilSlice(tasks)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, who, input.ID)
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
		Description: "Patches the supplied fields. Nodes, edges and viewport are sanitized; zoom is always positive.",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		for _, field := range []string{"nodes", "edges", "viewport", "title"} {
			if isNullRaw(bodyMap[field]) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", field+" must not be null", map[string]any{"field": field})
			}
		}
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, who, input.ID, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			IsArchived:  input.Body.IsArchived,
			Nodes:       input.Body.Nodes,
			Edges:       input.Body.Edges,
			Viewport:    input.Body.Viewport,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-canvas-changes",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/canvas-changes",
		Summary:     "Apply node and edge changes",
		Description: "Edges left without an endpoint are removed with their node.",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CanvasChangesRequest `json:"body"`
	}) (*struct {
		Body CanvasChangesResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, changed, err := e.ApplyCanvasChanges(ctx, who, input.ID, input.Body.NodeChanges, input.Body.EdgeChanges)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanvasChangesResponse `json:"body"`
		}{Body: CanvasChangesResponse{Task: t, Changed: changed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		Description:   "Removes presence and canvases of the task and unlinks its agents.",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, who, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerCanvases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-canvas-state",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/canvas",
		Summary:     "Save the organization canvas of a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body CanvasStateRequest `json:"body"`
	}) (*struct {
		Body domain.Canvas `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SaveCanvasState(ctx, who, input.ID, engine.CanvasState{
			Nodes:    input.Body.Nodes,
			Edges:    input.Body.Edges,
			Viewport: input.Body.Viewport,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Canvas `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-canvas-state",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/canvas",
		Summary:     "Get the organization canvas of a task",
		Description: "canvas is null when none is saved or the caller does not own the task.",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CanvasStateResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetCanvasState(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanvasStateResponse `json:"body"`
		}{Body: CanvasStateResponse{Canvas: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-canvas-state",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}/canvas",
		Summary:     "Clear the organization canvas of a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClearedResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cleared, err := e.ClearCanvasState(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearedResponse `json:"body"`
		}{Body: ClearedResponse{Cleared: cleared}}, nil
	})
}

func registerPresence(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-presence",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/presence",
		Summary:     "Update the caller's cursor on a task",
		Description: "A heartbeat without cursor_position keeps the previous cursor.",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PresenceRequest `json:"body"`
	}) (*struct {
		Body domain.Presence `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdatePresence(ctx, who, input.ID, input.Body.Cursor, input.Body.Heartbeat)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Presence `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-presence",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}/presence",
		Summary:     "Remove the caller's presence on a task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClearedResponse `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		removed, err := e.RemovePresence(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearedResponse `json:"body"`
		}{Body: ClearedResponse{Cleared: removed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-users",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/presence",
		Summary:     "Users active on a task within the presence window",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body listResponse[domain.Presence] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ActiveUsers(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Presence] `json:"body"`
		}{Body: listResponse[domain.Presence]{Items: nonNilSlice(items)}}, nil
	})
}
