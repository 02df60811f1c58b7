package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"constellation/internal/domain"
	"constellation/internal/engine"
)

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if isNullRaw(bodyMap["connections"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "connections must be array", map[string]any{"field": "connections", "reason": "must be array"})
		}
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAgent(ctx, who, engine.AgentCreateOptions{
			Name:           input.Body.Name,
			TaskID:         stringOrEmpty(input.Body.TaskID),
			Connections:    input.Body.Connections,
			CanvasPosition: input.Body.CanvasPosition,
			Prompt:         stringOrEmpty(input.Body.Prompt),
			Metadata:       input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Status string `query:"status" enum:"idle,generating,ready,error"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedAgents `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorUpdated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		agents, err := e.ListAgents(ctx, who, engine.AgentListOptions{
			TaskID:          input.TaskID,
			Status:          input.Status,
			CursorUpdatedAt: cursorUpdated,
			CursorID:        cursorID,
			Limit:           limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAgents{Items: []domain.Agent{}}
		if len(agents) > limit {
			agents = agents[:limit]
			last := agents[limit-1]
			resp.NextCursor = composeCursor(last.UpdatedAt, last.ID)
		}
		resp.Items = nonNilSlice(agents)
		return &struct {
			Body paginatedAgents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-agents",
		Method:      http.MethodGet,
		Path:        "/agents/recent",
		Summary:     "Most recently updated agents",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"5" maximum:"200"`
	}) (*struct {
		Body listResponse[domain.Agent] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agents, err := e.RecentAgents(ctx, who, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Agent] `json:"body"`
		}{Body: listResponse[domain.Agent]{Items: nonNilSlice(agents)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-agents",
		Method:      http.MethodGet,
		Path:        "/agents/search",
		Summary:     "Search agents by name",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
	}) (*struct {
		Body listResponse[domain.Agent] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		agents, err := e.SearchAgents(ctx, who, input.Query)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Agent] `json:"body"`
		}{Body: listResponse[domain.Agent]{Items: nonNilSlice(agents)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAgent(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Update agent",
		Description: "Any known status may be written at any time.",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		if isNullRaw(rawBodyMap(ctx)["connections"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "connections must be array", map[string]any{"field": "connections", "reason": "must be array"})
		}
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AgentUpdateOptions{
			Name:           input.Body.Name,
			Draft:          input.Body.Draft,
			Connections:    input.Body.Connections,
			CanvasPosition: input.Body.CanvasPosition,
			Metadata:       input.Body.Metadata,
			IsArchived:     input.Body.IsArchived,
		}
		if input.Body.Status != nil {
			status := domain.AgentStatus(*input.Body.Status)
			opts.Status = &status
		}
		a, err := e.UpdateAgent(ctx, who, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-agent-chat",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/chat",
		Summary:     "Append a chat entry",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AppendChatRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AppendChat(ctx, who, input.ID, domain.ChatRole(input.Body.Role), input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-agent",
		Method:        http.MethodDelete,
		Path:          "/agents/{id}",
		Summary:       "Delete agent",
		DefaultStatus: http.StatusNoContent,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAgent(ctx, who, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
