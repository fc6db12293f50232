package engine

import (
	"strings"
	"time"

	"ideaflow/internal/domain"
	"ideaflow/internal/engine/auth"
)

// Transition names a successful lifecycle change.
type Transition string

const (
	TransitionApproved    Transition = "approved"
	TransitionRejected    Transition = "rejected"
	TransitionEdited      Transition = "edited"
	TransitionResubmitted Transition = "resubmitted"
)

// UpdateRequest is a requested change to an initiative. Status selects the
// transition: approved, rejected, or empty/pending_approval for an edit.
type UpdateRequest struct {
	Status          string
	ApprovalReason  *string
	RejectionReason *string
	Idea            *domain.Idea
	Analysis        *domain.Analysis
}

// IsApprove reports whether req asks for approval.
func (r UpdateRequest) IsApprove() bool { return r.Status == string(domain.StatusApproved) }

// IsEdit reports whether req is an owner edit.
func (r UpdateRequest) IsEdit() bool {
	return r.Status == "" || r.Status == string(domain.StatusPendingApproval)
}

// CheckAnalysis rejects an analysis whose score is off the 1..10 scale.
func CheckAnalysis(a domain.Analysis) error {
	if a.BusinessValueScore < 1 || a.BusinessValueScore > 10 {
		return domain.ValidationError{Field: "aiAnalysis.businessValueScore", Reason: "must be between 1 and 10"}
	}
	return nil
}

// Decide validates req against cur and returns the patch to apply. It never
// mutates its inputs and returns an error without a patch when the request
// is not allowed. workItemID is stamped on approval.
func Decide(cur domain.Initiative, actor domain.User, req UpdateRequest, now time.Time, workItemID int64) (domain.InitiativePatch, Transition, error) {
	ts := domain.FormatTime(now)
	switch req.Status {
	case string(domain.StatusApproved):
		return decideApprove(cur, actor, req, ts, workItemID)
	case string(domain.StatusRejected):
		return decideReject(cur, actor, req, ts)
	case "", string(domain.StatusPendingApproval):
		return decideEdit(cur, actor, req, ts)
	default:
		return domain.InitiativePatch{}, "", domain.ValidationError{Field: "status", Reason: "unknown status " + req.Status}
	}
}

func decideApprove(cur domain.Initiative, actor domain.User, req UpdateRequest, ts string, workItemID int64) (domain.InitiativePatch, Transition, error) {
	if err := auth.RequirePO(actor, "approve initiative"); err != nil {
		return domain.InitiativePatch{}, "", err
	}
	if cur.Status.IsTerminal() {
		return domain.InitiativePatch{}, "", domain.ValidationError{Field: "status", Reason: "initiative is already approved"}
	}
	reason := ""
	if req.ApprovalReason != nil {
		reason = strings.TrimSpace(*req.ApprovalReason)
	}
	if reason == "" {
		return domain.InitiativePatch{}, "", domain.ValidationError{Field: "approvalReason", Reason: "approval reason required"}
	}
	if workItemID <= 0 {
		return domain.InitiativePatch{}, "", domain.ValidationError{Field: "adoWorkItemId", Reason: "work item id must be positive"}
	}
	status := domain.StatusApproved
	by := actor.Username
	return domain.InitiativePatch{
		Status:         &status,
		ApprovedBy:     &by,
		ApprovedAt:     &ts,
		ApprovalReason: &reason,
		ADOWorkItemID:  &workItemID,
		ClearRejection: true,
	}, TransitionApproved, nil
}

func decideReject(cur domain.Initiative, actor domain.User, req UpdateRequest, ts string) (domain.InitiativePatch, Transition, error) {
	if err := auth.RequirePO(actor, "reject initiative"); err != nil {
		return domain.InitiativePatch{}, "", err
	}
	if cur.Status.IsTerminal() {
		return domain.InitiativePatch{}, "", domain.ValidationError{Field: "status", Reason: "initiative is already approved"}
	}
	status := domain.StatusRejected
	by := actor.Username
	reason := ""
	if req.RejectionReason != nil {
		reason = *req.RejectionReason
	}
	return domain.InitiativePatch{
		Status:          &status,
		RejectedBy:      &by,
		RejectedAt:      &ts,
		RejectionReason: &reason,
	}, TransitionRejected, nil
}

func decideEdit(cur domain.Initiative, actor domain.User, req UpdateRequest, ts string) (domain.InitiativePatch, Transition, error) {
	if err := auth.RequireSubmitter(actor, cur, "edit initiative"); err != nil {
		return domain.InitiativePatch{}, "", err
	}
	if cur.Status != domain.StatusPendingApproval && cur.Status != domain.StatusRejected {
		return domain.InitiativePatch{}, "", auth.ForbiddenError{Action: "edit initiative", Reason: "you can only edit pending or rejected ideas"}
	}
	// Only the idea and its analysis are writable here; the rest of the
	// patch is owned by the workflow.
	var patch domain.InitiativePatch
	if req.Idea != nil {
		idea := req.Idea.Clone()
		patch.Idea = &idea
	}
	if req.Analysis != nil {
		if err := CheckAnalysis(*req.Analysis); err != nil {
			return domain.InitiativePatch{}, "", err
		}
		analysis := *req.Analysis
		patch.Analysis = &analysis
	}
	if cur.Status != domain.StatusRejected {
		return patch, TransitionEdited, nil
	}
	// Any owner edit of a rejected item resubmits it.
	if ts < cur.SubmittedAt {
		ts = cur.SubmittedAt
	}
	status := domain.StatusPendingApproval
	patch.Status = &status
	patch.SubmittedAt = &ts
	patch.ClearRejection = true
	return patch, TransitionResubmitted, nil
}
