package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ideaflow/internal/domain"
)

var ErrNotFound = errors.New("not found")

// PersistenceError wraps a storage read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Filter narrows ListInitiatives. An empty Status or "all" lists everything.
type Filter struct {
	Status      string
	SubmittedBy string
}

func (f Filter) match(in domain.Initiative) bool {
	if f.Status != "" && f.Status != "all" && string(in.Status) != f.Status {
		return false
	}
	if f.SubmittedBy != "" && in.SubmittedBy != f.SubmittedBy {
		return false
	}
	return true
}

// PatchFunc inspects the current record and returns the patch to apply. A
// returned error aborts the update and nothing is written.
type PatchFunc func(current domain.Initiative) (domain.InitiativePatch, error)

// Store persists initiatives. UpdateInitiative must run fn and apply its
// patch atomically with respect to other writers of the same id.
type Store interface {
	ListInitiatives(ctx context.Context, f Filter) ([]domain.Initiative, error)
	GetInitiative(ctx context.Context, id string) (domain.Initiative, error)
	InsertInitiative(ctx context.Context, in domain.Initiative) (domain.Initiative, error)
	MergePatchInitiative(ctx context.Context, id string, patch domain.InitiativePatch) (domain.Initiative, error)
	UpdateInitiative(ctx context.Context, id string, fn PatchFunc) (domain.Initiative, error)
	DeleteInitiative(ctx context.Context, id string) (domain.Initiative, error)
	WorkItemExists(ctx context.Context, workItemID int64) (bool, error)
	Close() error
}

// sortNewestFirst orders by submission time, newest first, then id.
func sortNewestFirst(items []domain.Initiative) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SubmittedAt != items[j].SubmittedAt {
			return items[i].SubmittedAt > items[j].SubmittedAt
		}
		return items[i].ID < items[j].ID
	})
}

func constantPatch(p domain.InitiativePatch) PatchFunc {
	return func(domain.Initiative) (domain.InitiativePatch, error) { return p, nil }
}
