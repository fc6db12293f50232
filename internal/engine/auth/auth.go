package auth

import (
	"fmt"

	"ideaflow/internal/domain"
)

// ForbiddenError indicates the actor's role or ownership does not allow Action.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("not allowed to %s", e.Action)
	}
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

// RequirePO allows only the PO role.
func RequirePO(actor domain.User, action string) error {
	if !actor.IsPO() {
		return ForbiddenError{Action: action, Reason: "PO role required"}
	}
	return nil
}

// RequireSubmitter allows only the non-PO user who submitted in.
func RequireSubmitter(actor domain.User, in domain.Initiative, action string) error {
	if actor.IsPO() {
		return ForbiddenError{Action: action, Reason: "PO decisions go through approve or reject"}
	}
	if actor.Username == "" || in.SubmittedBy != actor.Username {
		return ForbiddenError{Action: action, Reason: "you can only edit your own ideas"}
	}
	return nil
}
