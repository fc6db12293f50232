package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/analysis"
	"ideaflow/internal/domain"
	"ideaflow/internal/engine/auth"
	"ideaflow/internal/events"
	"ideaflow/internal/metrics"
	"ideaflow/internal/repo"
)

// Engine applies the approval workflow to stored initiatives.
type Engine struct {
	Store    repo.Store
	Events   events.Sink
	Analyzer analysis.Analyzer
	Minter   WorkItemMinter
	Now      func() time.Time
	NewID    func() string
	Logger   *slog.Logger
}

func New(store repo.Store, sink events.Sink, analyzer analysis.Analyzer) Engine {
	return Engine{
		Store:    store,
		Events:   sink,
		Analyzer: analyzer,
		Minter:   NewRandomMinter(store),
		Now:      time.Now,
		NewID:    func() string { return uuid.NewString() },
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) minter() WorkItemMinter {
	if e.Minter != nil {
		return e.Minter
	}
	return NewRandomMinter(e.Store)
}

// emit records evtType. A failing sink is logged and never undoes the
// transition that already committed.
func (e Engine) emit(ctx context.Context, evtType, initiativeID, actor string, payload events.Payload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, initiativeID, actor, payload); err != nil {
		e.logger().WarnContext(ctx, "event append failed", "type", evtType, "initiative_id", initiativeID, "error", err)
	}
}

// Analyze validates idea and returns its analysis.
func (e Engine) Analyze(ctx context.Context, idea domain.Idea) (domain.Analysis, error) {
	return e.Analyzer.Analyze(ctx, idea)
}

// SubmitOptions are parameters for creating an initiative.
type SubmitOptions struct {
	Idea domain.Idea
	// Analysis is computed from Idea when nil.
	Analysis *domain.Analysis
	Actor    domain.User
	// SubmittedBy is used only when Actor has no username.
	SubmittedBy string
}

// Submit creates a pending_approval initiative owned by the actor.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Initiative, error) {
	if err := e.Analyzer.Validate(opts.Idea); err != nil {
		return domain.Initiative{}, err
	}
	var result domain.Analysis
	if opts.Analysis != nil {
		result = *opts.Analysis
		if err := CheckAnalysis(result); err != nil {
			return domain.Initiative{}, err
		}
	} else {
		var err error
		result, err = e.Analyzer.Analyze(ctx, opts.Idea)
		if err != nil {
			return domain.Initiative{}, err
		}
	}
	submitter := opts.Actor.Username
	if submitter == "" {
		submitter = strings.TrimSpace(opts.SubmittedBy)
	}
	if submitter == "" {
		submitter = "anonymous"
	}
	in := domain.Initiative{
		ID:          e.newID(),
		Status:      domain.StatusPendingApproval,
		SubmittedBy: submitter,
		SubmittedAt: domain.FormatTime(e.now()),
		Idea:        opts.Idea.Clone(),
		Analysis:    result,
	}
	created, err := e.Store.InsertInitiative(ctx, in)
	if err != nil {
		return domain.Initiative{}, err
	}
	metrics.RecordTransition("submitted")
	e.emit(ctx, events.InitiativeSubmitted, created.ID, submitter, events.Payload{
		"title": created.Idea.Title,
		"score": created.Analysis.BusinessValueScore,
	})
	return created, nil
}

// Update runs req through the workflow. Checks happen inside the store's
// atomic update, so a refused request leaves the initiative untouched.
func (e Engine) Update(ctx context.Context, id string, actor domain.User, req UpdateRequest) (domain.Initiative, error) {
	if req.IsEdit() {
		var err error
		if req, err = e.prepareEdit(ctx, id, actor, req); err != nil {
			return domain.Initiative{}, err
		}
	}
	var workItemID int64
	if req.IsApprove() && actor.IsPO() {
		var err error
		workItemID, err = e.minter().Mint(ctx)
		if err != nil {
			return domain.Initiative{}, err
		}
	}
	now := e.now()
	var transition Transition
	updated, err := e.Store.UpdateInitiative(ctx, id, func(cur domain.Initiative) (domain.InitiativePatch, error) {
		patch, t, err := Decide(cur, actor, req, now, workItemID)
		if err != nil {
			return domain.InitiativePatch{}, err
		}
		transition = t
		return patch, nil
	})
	if err != nil {
		return domain.Initiative{}, err
	}
	metrics.RecordTransition(string(transition))
	e.emit(ctx, eventFor(transition), updated.ID, actor.Username, transitionPayload(transition, updated))
	e.logger().InfoContext(ctx, "initiative updated", "id", updated.ID, "transition", transition, "actor", actor.Username, "status", updated.Status)
	return updated, nil
}

// prepareEdit validates a replacement idea and scores it when no analysis
// came with it, so the stored analysis always describes the stored idea.
func (e Engine) prepareEdit(ctx context.Context, id string, actor domain.User, req UpdateRequest) (UpdateRequest, error) {
	if req.Analysis != nil {
		if err := CheckAnalysis(*req.Analysis); err != nil {
			return req, err
		}
	}
	if req.Idea == nil {
		return req, nil
	}
	cur, err := e.Store.GetInitiative(ctx, id)
	if err != nil {
		return req, err
	}
	// Refuse non-owners and closed items before running an analysis.
	if _, _, err := Decide(cur, actor, req, e.now(), 0); err != nil {
		return req, err
	}
	if err := e.Analyzer.Validate(*req.Idea); err != nil {
		return req, err
	}
	if req.Analysis != nil {
		return req, nil
	}
	result, err := e.Analyzer.Analyze(ctx, *req.Idea)
	if err != nil {
		return req, err
	}
	req.Analysis = &result
	return req, nil
}

func (e Engine) Approve(ctx context.Context, id string, actor domain.User, reason string) (domain.Initiative, error) {
	return e.Update(ctx, id, actor, UpdateRequest{Status: string(domain.StatusApproved), ApprovalReason: &reason})
}

func (e Engine) Reject(ctx context.Context, id string, actor domain.User, reason string) (domain.Initiative, error) {
	return e.Update(ctx, id, actor, UpdateRequest{Status: string(domain.StatusRejected), RejectionReason: &reason})
}

// Edit replaces the idea of the actor's own initiative. A new idea without
// an analysis is analyzed again. A rejected initiative is resubmitted.
func (e Engine) Edit(ctx context.Context, id string, actor domain.User, idea *domain.Idea, result *domain.Analysis) (domain.Initiative, error) {
	return e.Update(ctx, id, actor, UpdateRequest{Idea: idea, Analysis: result})
}

// Delete removes an initiative. Only a PO may delete.
func (e Engine) Delete(ctx context.Context, id string, actor domain.User) (domain.Initiative, error) {
	if err := auth.RequirePO(actor, "delete initiative"); err != nil {
		return domain.Initiative{}, err
	}
	removed, err := e.Store.DeleteInitiative(ctx, id)
	if err != nil {
		return domain.Initiative{}, err
	}
	metrics.RecordTransition("deleted")
	e.emit(ctx, events.InitiativeDeleted, removed.ID, actor.Username, events.Payload{"status": string(removed.Status)})
	return removed, nil
}

func (e Engine) Get(ctx context.Context, id string) (domain.Initiative, error) {
	return e.Store.GetInitiative(ctx, id)
}

// List returns initiatives newest first. An empty status or "all" lists
// every initiative.
func (e Engine) List(ctx context.Context, status, submittedBy string) ([]domain.Initiative, error) {
	if status != "" && status != "all" && !domain.Status(status).IsValid() {
		return nil, domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return e.Store.ListInitiatives(ctx, repo.Filter{Status: status, SubmittedBy: submittedBy})
}

func eventFor(t Transition) string {
	switch t {
	case TransitionApproved:
		return events.InitiativeApproved
	case TransitionRejected:
		return events.InitiativeRejected
	case TransitionResubmitted:
		return events.InitiativeResubmitted
	default:
		return events.InitiativeEdited
	}
}

func transitionPayload(t Transition, in domain.Initiative) events.Payload {
	p := events.Payload{"status": string(in.Status)}
	switch t {
	case TransitionApproved:
		if in.ApprovalReason != nil {
			p["reason"] = *in.ApprovalReason
		}
		if in.ADOWorkItemID != nil {
			p["adoWorkItemId"] = *in.ADOWorkItemID
		}
	case TransitionRejected:
		if in.RejectionReason != nil {
			p["reason"] = *in.RejectionReason
		}
	case TransitionResubmitted:
		p["submittedAt"] = in.SubmittedAt
	}
	return p
}

// IsForbidden reports whether err is a role or ownership failure.
func IsForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}
