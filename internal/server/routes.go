package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"ideaflow/internal/domain"
	"ideaflow/internal/engine"
)

type handlers struct {
	cfg Config
}

func (h handlers) fail(err error) error {
	return handleError(err, h.cfg.DevMode)
}

type initiativeIDInput struct {
	ID string `path:"id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*struct{ Body HealthResponse }, error) {
		return &struct{ Body HealthResponse }{Body: HealthResponse{
			Status:    "ok",
			Timestamp: domain.FormatTime(time.Now()),
		}}, nil
	})
}

func registerSession(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/login",
		Summary:     "Log in and receive a session token",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{ Body LoginRequest }) (*struct{ Body LoginResponse }, error) {
		token, user, err := h.cfg.Identity.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body LoginResponse }{Body: LoginResponse{
			Message: "Login successful",
			Token:   token,
			User:    user,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/logout",
		Summary:     "Revoke the current session",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*struct{ Body LogoutResponse }, error) {
		p, herr := principalFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := h.cfg.Identity.Logout(ctx, p.Token); err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body LogoutResponse }{Body: LogoutResponse{Success: true, Message: "Logged out successfully"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Tags:        []string{"Session"},
	}, func(ctx context.Context, input *struct{}) (*struct{ Body MeResponse }, error) {
		p, herr := principalFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		return &struct{ Body MeResponse }{Body: MeResponse{User: p.User}}, nil
	})
}

func registerAnalyze(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "analyze-idea",
		Method:      http.MethodPost,
		Path:        "/analyze",
		Summary:     "Score an idea and draft its statement of work",
		Tags:        []string{"Analysis"},
	}, func(ctx context.Context, input *struct{ Body IdeaBody }) (*struct{ Body domain.Analysis }, error) {
		result, err := h.cfg.Engine.Analyze(ctx, input.Body.toDomain())
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body domain.Analysis }{Body: result}, nil
	})
}

func registerInitiatives(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-initiatives",
		Method:      http.MethodGet,
		Path:        "/initiatives",
		Summary:     "List initiatives, newest first",
		Tags:        []string{"Initiatives"},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" doc:"pending_approval, approved, rejected or all"`
		SubmittedBy string `query:"submittedBy"`
	}) (*struct{ Body []domain.Initiative }, error) {
		items, err := h.cfg.Engine.List(ctx, input.Status, input.SubmittedBy)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body []domain.Initiative }{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-initiative",
		Method:      http.MethodGet,
		Path:        "/initiatives/{id}",
		Summary:     "Get an initiative",
		Tags:        []string{"Initiatives"},
	}, func(ctx context.Context, input *initiativeIDInput) (*struct{ Body domain.Initiative }, error) {
		in, err := h.cfg.Engine.Get(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body domain.Initiative }{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-initiative",
		Method:        http.MethodPost,
		Path:          "/initiatives",
		Summary:       "Submit an idea for approval",
		Tags:          []string{"Initiatives"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct{ Body CreateInitiativeRequest }) (*struct{ Body domain.Initiative }, error) {
		p, herr := principalFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if input.Body.Idea == nil {
			return nil, h.fail(domain.ValidationError{Field: "idea", Reason: "is required"})
		}
		created, err := h.cfg.Engine.Submit(ctx, engine.SubmitOptions{
			Idea:        input.Body.Idea.toDomain(),
			Analysis:    input.Body.AIAnalysis.toDomain(),
			Actor:       p.User,
			SubmittedBy: input.Body.SubmittedBy,
		})
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body domain.Initiative }{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-initiative",
		Method:      http.MethodPatch,
		Path:        "/initiatives/{id}",
		Summary:     "Approve, reject or edit an initiative",
		Tags:        []string{"Initiatives"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateInitiativeRequest
	}) (*struct{ Body domain.Initiative }, error) {
		p, herr := principalFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		req := engine.UpdateRequest{
			Status:          input.Body.Status,
			ApprovalReason:  input.Body.ApprovalReason,
			RejectionReason: input.Body.RejectionReason,
			Analysis:        input.Body.AIAnalysis.toDomain(),
		}
		if input.Body.Idea != nil {
			idea := input.Body.Idea.toDomain()
			req.Idea = &idea
		}
		updated, err := h.cfg.Engine.Update(ctx, input.ID, p.User, req)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body domain.Initiative }{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-initiative",
		Method:      http.MethodDelete,
		Path:        "/initiatives/{id}",
		Summary:     "Delete an initiative",
		Tags:        []string{"Initiatives"},
	}, func(ctx context.Context, input *initiativeIDInput) (*struct{ Body DeleteInitiativeResponse }, error) {
		p, herr := principalFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		removed, err := h.cfg.Engine.Delete(ctx, input.ID, p.User)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body DeleteInitiativeResponse }{Body: DeleteInitiativeResponse{
			Message:    "Initiative deleted successfully",
			Initiative: removed,
		}}, nil
	})
}

func registerHistory(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "initiative-events",
		Method:      http.MethodGet,
		Path:        "/initiatives/{id}/events",
		Summary:     "Lifecycle events of an initiative, oldest first",
		Tags:        []string{"Initiatives"},
	}, func(ctx context.Context, input *initiativeIDInput) (*struct{ Body []domain.Event }, error) {
		if _, err := h.cfg.Engine.Get(ctx, input.ID); err != nil {
			return nil, h.fail(err)
		}
		history, err := h.cfg.EventLog.ForInitiative(ctx, input.ID)
		if err != nil {
			return nil, h.fail(err)
		}
		return &struct{ Body []domain.Event }{Body: history}, nil
	})
}
