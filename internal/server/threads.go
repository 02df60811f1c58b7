package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"constellation/internal/domain"
	"constellation/internal/engine"
)

func registerThreads(api huma.API, e engine.Engine) {
	threadErrors := append([]int{http.StatusServiceUnavailable}, taskErrors...)

	huma.Register(api, huma.Operation{
		OperationID:   "create-thread",
		Method:        http.MethodPost,
		Path:          "/threads",
		Summary:       "Start a thread and prompt the model",
		Description:   "Fails with model_unavailable before anything is stored when no provider is configured.",
		DefaultStatus: http.StatusCreated,
		Errors:        threadErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateThreadRequest `json:"body"`
	}) (*struct {
		Body engine.ThreadReply `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reply, err := e.CreateThreadAndPrompt(ctx, who, input.Body.Prompt, stringOrEmpty(input.Body.AgentID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ThreadReply `json:"body"`
		}{Body: reply}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "continue-thread",
		Method:      http.MethodPost,
		Path:        "/threads/{id}/messages",
		Summary:     "Continue a thread",
		Errors:      threadErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ContinueThreadRequest `json:"body"`
	}) (*struct {
		Body engine.ThreadReply `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reply, err := e.ContinueThread(ctx, who, input.ID, input.Body.Prompt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ThreadReply `json:"body"`
		}{Body: reply}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-threads",
		Method:      http.MethodGet,
		Path:        "/threads",
		Summary:     "List threads",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body listResponse[domain.Thread] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		threads, err := e.ListThreads(ctx, who, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.Thread] `json:"body"`
		}{Body: listResponse[domain.Thread]{Items: nonNilSlice(threads)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-thread-messages",
		Method:      http.MethodGet,
		Path:        "/threads/{id}/messages",
		Summary:     "Messages of a thread, oldest first",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body listResponse[domain.ThreadMessage] `json:"body"`
	}, error) {
		who, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.GetThreadMessages(ctx, who, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listResponse[domain.ThreadMessage] `json:"body"`
		}{Body: listResponse[domain.ThreadMessage]{Items: nonNilSlice(msgs)}}, nil
	})
}
