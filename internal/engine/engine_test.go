package engine_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/analysis"
	"ideaflow/internal/db"
	"ideaflow/internal/domain"
	"ideaflow/internal/engine"
	"ideaflow/internal/engine/auth"
	"ideaflow/internal/events"
	"ideaflow/internal/genai"
	"ideaflow/internal/repo"
)

var (
	po    = domain.User{ID: "1", Username: "po_user", Role: domain.RolePO, Name: "Product Owner"}
	alice = domain.User{ID: "2", Username: "alice", Role: domain.RoleUser, Name: "Alice"}
	bob   = domain.User{ID: "3", Username: "bob", Role: domain.RoleUser, Name: "Bob"}
)

type recordedEvent struct {
	Type         string
	InitiativeID string
	Actor        string
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Append(_ context.Context, evtType, initiativeID, actor string, _ events.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Type: evtType, InitiativeID: initiativeID, Actor: actor})
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// countingGenerator drafts a fixed analysis and counts its calls.
type countingGenerator struct {
	calls atomic.Int32
	score int
}

func (g *countingGenerator) Generate(context.Context, domain.Idea) (*genai.Result, error) {
	g.calls.Add(1)
	return &genai.Result{
		BusinessValueScore:         g.score,
		BusinessValueJustification: "drafted",
		StatementOfWork:            "drafted sow",
	}, nil
}

type testEnv struct {
	Engine engine.Engine
	Sink   *recordingSink
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) { *env.clock = env.clock.Add(d) }

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "ideaflow.db"))
	require.NoError(t, err)
	store := repo.SQLStore{DB: conn}
	t.Cleanup(func() { store.Close() })
	sink := &recordingSink{}
	eng := engine.New(store, sink, analysis.Analyzer{})
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Sink: sink, Ctx: context.Background(), clock: &clock}
}

func submit(t *testing.T, env testEnv, actor domain.User) domain.Initiative {
	t.Helper()
	mv := 300.0
	in, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Actor: actor,
		Idea: domain.Idea{
			Title:             "Payroll bot",
			IdeaDescription:   "Need to automate manual payroll reconciliation",
			BusinessObjective: "Profitability",
			MonetaryValue:     &mv,
		},
	})
	require.NoError(t, err)
	return in
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, field, ve.Field)
}

func TestSubmitComputesAnalysis(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	assert.Equal(t, domain.StatusPendingApproval, in.Status)
	assert.Equal(t, "alice", in.SubmittedBy)
	assert.Equal(t, "2024-01-01T09:00:00.000Z", in.SubmittedAt)
	assert.Equal(t, 4, in.Analysis.BusinessValueScore)
	assert.True(t, in.Analysis.CostSaving)
	assert.Equal(t, []string{events.InitiativeSubmitted}, env.Sink.types())
}

func TestSubmitRequiresDescription(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{Actor: alice, Idea: domain.Idea{BusinessObjective: "Capacity"}})
	requireValidation(t, err, "ideaDescription")
}

func TestSubmitRejectsOutOfRangeScore(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Actor:    alice,
		Idea:     domain.Idea{IdeaDescription: "d", BusinessObjective: "Capacity"},
		Analysis: &domain.Analysis{BusinessValueScore: 0},
	})
	requireValidation(t, err, "aiAnalysis.businessValueScore")
}

func TestApproveRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	blank := "   "
	empty := ""
	for _, req := range []engine.UpdateRequest{
		{Status: "approved"},
		{Status: "approved", ApprovalReason: &empty},
		{Status: "approved", ApprovalReason: &blank},
	} {
		_, err := env.Engine.Update(env.Ctx, in.ID, po, req)
		var ve domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "approval reason required", ve.Reason)
	}
	got, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	assert.Nil(t, got.ApprovedBy)
	assert.Nil(t, got.ADOWorkItemID)
}

func TestUserCannotApproveOrReject(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	for _, actor := range []domain.User{alice, bob} {
		_, err := env.Engine.Approve(env.Ctx, in.ID, actor, "looks good")
		assert.True(t, engine.IsForbidden(err), "approve as %s: %v", actor.Username, err)
		_, err = env.Engine.Reject(env.Ctx, in.ID, actor, "no")
		assert.True(t, engine.IsForbidden(err), "reject as %s: %v", actor.Username, err)
	}
	got, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	assert.Nil(t, got.RejectedBy)
}

func TestPOApproveStampsMetadata(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	env.advance(time.Hour)
	got, err := env.Engine.Approve(env.Ctx, in.ID, po, "  Clear ROI ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, "po_user", *got.ApprovedBy)
	require.NotNil(t, got.ApprovalReason)
	assert.Equal(t, "Clear ROI", *got.ApprovalReason)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, "2024-01-01T10:00:00.000Z", *got.ApprovedAt)
	require.NotNil(t, got.ADOWorkItemID)
	assert.GreaterOrEqual(t, *got.ADOWorkItemID, int64(10000))
	assert.LessOrEqual(t, *got.ADOWorkItemID, int64(99999))
	assert.Equal(t, in.SubmittedAt, got.SubmittedAt)
	assert.Equal(t, in.Idea.Title, got.Idea.Title)

	_, err = env.Engine.Approve(env.Ctx, in.ID, po, "again")
	assert.Error(t, err, "approved is terminal")
	_, err = env.Engine.Reject(env.Ctx, in.ID, po, "late")
	assert.Error(t, err, "approved cannot be rejected")
}

func TestApproveAfterRejectClearsRejection(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	_, err := env.Engine.Reject(env.Ctx, in.ID, po, "needs numbers")
	require.NoError(t, err)

	got, err := env.Engine.Approve(env.Ctx, in.ID, po, "numbers arrived")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Nil(t, got.RejectedBy)
	assert.Nil(t, got.RejectedAt)
	assert.Nil(t, got.RejectionReason)
	require.NotNil(t, got.ApprovedBy)

	stored, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RejectedBy)
	assert.Nil(t, stored.RejectionReason)
}

func TestRejectAllowsEmptyReason(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	got, err := env.Engine.Reject(env.Ctx, in.ID, po, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	require.NotNil(t, got.RejectedBy)
	assert.Equal(t, "po_user", *got.RejectedBy)
	assert.NotNil(t, got.RejectedAt)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "", *got.RejectionReason)
}

func TestResubmitResetsRejection(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	env.advance(time.Hour)
	_, err := env.Engine.Reject(env.Ctx, in.ID, po, "too vague")
	require.NoError(t, err)
	env.advance(time.Hour)

	got, err := env.Engine.Edit(env.Ctx, in.ID, alice, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	assert.Nil(t, got.RejectedAt)
	assert.Nil(t, got.RejectionReason)
	assert.Nil(t, got.RejectedBy)
	assert.Equal(t, "2024-01-01T11:00:00.000Z", got.SubmittedAt)
	assert.Equal(t, in.Analysis, got.Analysis, "an edit without a new idea keeps the analysis")
	assert.Equal(t, []string{events.InitiativeSubmitted, events.InitiativeRejected, events.InitiativeResubmitted}, env.Sink.types())
}

func TestEditPermissions(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	idea := in.Idea
	idea.Title = "Renamed"

	_, err := env.Engine.Edit(env.Ctx, in.ID, bob, &idea, nil)
	assert.True(t, engine.IsForbidden(err), "non-owner edit: %v", err)
	_, err = env.Engine.Edit(env.Ctx, in.ID, po, &idea, nil)
	assert.True(t, engine.IsForbidden(err), "PO edit: %v", err)

	got, err := env.Engine.Edit(env.Ctx, in.ID, alice, &idea, nil)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Idea.Title)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	assert.Equal(t, in.SubmittedAt, got.SubmittedAt)

	_, err = env.Engine.Approve(env.Ctx, in.ID, po, "ok")
	require.NoError(t, err)
	_, err = env.Engine.Edit(env.Ctx, in.ID, alice, &idea, nil)
	var fe auth.ForbiddenError
	assert.ErrorAs(t, err, &fe)
}

func TestEditRejectsOutOfRangeScore(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)

	_, err := env.Engine.Edit(env.Ctx, in.ID, alice, nil, &domain.Analysis{BusinessValueScore: 42})
	requireValidation(t, err, "aiAnalysis.businessValueScore")

	idea := in.Idea
	_, err = env.Engine.Edit(env.Ctx, in.ID, alice, &idea, &domain.Analysis{BusinessValueScore: 0})
	requireValidation(t, err, "aiAnalysis.businessValueScore")

	stored, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Analysis.BusinessValueScore)
}

func TestEditRejectsBlankIdea(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)

	_, err := env.Engine.Edit(env.Ctx, in.ID, alice, &domain.Idea{Title: "t"}, nil)
	requireValidation(t, err, "ideaDescription")
	_, err = env.Engine.Edit(env.Ctx, in.ID, alice, &domain.Idea{IdeaDescription: "d"}, &in.Analysis)
	requireValidation(t, err, "businessObjective")

	stored, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Idea.IdeaDescription, stored.Idea.IdeaDescription)
	assert.Equal(t, in.Idea.BusinessObjective, stored.Idea.BusinessObjective)
	assert.Equal(t, []string{events.InitiativeSubmitted}, env.Sink.types())
}

func TestEditReanalyzesReplacedIdea(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	require.Equal(t, 4, in.Analysis.BusinessValueScore)

	got, err := env.Engine.Edit(env.Ctx, in.ID, alice, &domain.Idea{
		Title:             "Retention",
		IdeaDescription:   "Fix GDPR retention gaps in HR records",
		BusinessObjective: "Audit & Compliance",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Analysis.BusinessValueScore)
	assert.Equal(t, analysis.Analyze(got.Idea), got.Analysis)

	stored, err := env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Analysis, stored.Analysis)
}

func TestEditKeepsSuppliedAnalysis(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	idea := in.Idea
	idea.Title = "Payroll bot v2"
	supplied := domain.Analysis{StatementOfWork: "sow", BusinessValueScore: 7, BusinessValueJustification: "j"}

	got, err := env.Engine.Edit(env.Ctx, in.ID, alice, &idea, &supplied)
	require.NoError(t, err)
	assert.Equal(t, supplied, got.Analysis)
}

func TestEditRefusesBeforeAnalyzing(t *testing.T) {
	env := newTestEnv(t)
	gen := &countingGenerator{score: 6}
	env.Engine.Analyzer = analysis.Analyzer{Generator: gen}
	in := submit(t, env, alice)
	require.Equal(t, int32(1), gen.calls.Load())

	idea := in.Idea
	idea.Title = "Hijacked"
	_, err := env.Engine.Edit(env.Ctx, in.ID, bob, &idea, nil)
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.Edit(env.Ctx, "missing", alice, &idea, nil)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, int32(1), gen.calls.Load())

	got, err := env.Engine.Edit(env.Ctx, in.ID, alice, &idea, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, domain.SourceGenerative, got.Analysis.Source)
	assert.Equal(t, 6, got.Analysis.BusinessValueScore)
}

func TestUnknownStatusIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	_, err := env.Engine.Update(env.Ctx, in.ID, po, engine.UpdateRequest{Status: "archived"})
	requireValidation(t, err, "status")
}

func TestUpdateMissingInitiative(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Approve(env.Ctx, "missing", po, "ok")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteRequiresPO(t *testing.T) {
	env := newTestEnv(t)
	in := submit(t, env, alice)
	_, err := env.Engine.Delete(env.Ctx, in.ID, alice)
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.Get(env.Ctx, in.ID)
	require.NoError(t, err, "forbidden delete removed the initiative")

	removed, err := env.Engine.Delete(env.Ctx, in.ID, po)
	require.NoError(t, err)
	assert.Equal(t, in.ID, removed.ID)
	_, err = env.Engine.Delete(env.Ctx, in.ID, po)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	first := submit(t, env, alice)
	env.advance(time.Minute)
	second := submit(t, env, bob)
	_, err := env.Engine.Reject(env.Ctx, first.ID, po, "no")
	require.NoError(t, err)

	all, err := env.Engine.List(env.Ctx, "all", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	rejected, err := env.Engine.List(env.Ctx, "rejected", "")
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, first.ID, rejected[0].ID)

	_, err = env.Engine.List(env.Ctx, "bogus", "")
	requireValidation(t, err, "status")
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	reason := "old"
	cur := domain.Initiative{
		ID:              "x",
		Status:          domain.StatusRejected,
		SubmittedBy:     "alice",
		SubmittedAt:     "2024-01-01T00:00:00.000Z",
		RejectionReason: &reason,
	}
	before := cur
	patch, transition, err := engine.Decide(cur, alice, engine.UpdateRequest{}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionResubmitted, transition)
	assert.True(t, patch.ClearRejection)
	assert.Equal(t, before, cur)
	assert.Equal(t, "old", *cur.RejectionReason)
}

func TestDecideEditWritesOnlyIdeaAndAnalysis(t *testing.T) {
	cur := domain.Initiative{ID: "x", Status: domain.StatusPendingApproval, SubmittedBy: "alice"}
	reason := "sneaky"
	idea := domain.Idea{IdeaDescription: "d", BusinessObjective: "Capacity"}
	req := engine.UpdateRequest{
		ApprovalReason:  &reason,
		RejectionReason: &reason,
		Idea:            &idea,
		Analysis:        &domain.Analysis{BusinessValueScore: 5},
	}
	patch, transition, err := engine.Decide(cur, alice, req, time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, engine.TransitionEdited, transition)
	require.NotNil(t, patch.Idea)
	require.NotNil(t, patch.Analysis)
	patch.Idea, patch.Analysis = nil, nil
	assert.True(t, patch.IsEmpty(), "unexpected fields in edit patch: %+v", patch)

	req.Analysis = &domain.Analysis{BusinessValueScore: 11}
	_, _, err = engine.Decide(cur, alice, req, time.Now(), 0)
	requireValidation(t, err, "aiAnalysis.businessValueScore")
}

type usedLookup map[int64]bool

func (u usedLookup) WorkItemExists(_ context.Context, id int64) (bool, error) { return u[id], nil }

func TestRandomMinterSkipsUsedIDs(t *testing.T) {
	seq := []int64{12345, 12345, 23456}
	i := 0
	m := engine.RandomMinter{
		Lookup:      usedLookup{12345: true},
		Rand:        func() int64 { v := seq[i]; i++; return v },
		MaxAttempts: 5,
	}
	id, err := m.Mint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(23456), id)

	m = engine.RandomMinter{Lookup: usedLookup{1: true}, Rand: func() int64 { return 1 }, MaxAttempts: 3}
	_, err = m.Mint(context.Background())
	assert.Error(t, err)
}
