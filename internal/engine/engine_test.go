package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fairlance/internal/config"
	"fairlance/internal/db"
	"fairlance/internal/domain"
	"fairlance/internal/engine"
	"fairlance/internal/engine/policy"
	"fairlance/internal/migrate"
	"fairlance/internal/payment"
	"fairlance/internal/repo"
)

var (
	client   = policy.Actor{ID: "client-1", Role: "client"}
	worker   = policy.Actor{ID: "worker-1", Role: "worker"}
	stranger = policy.Actor{ID: "someone-else"}
)

type testEnv struct {
	Engine  engine.Engine
	Gateway *payment.Simulated
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := payment.NewSimulated()
	eng := engine.New(conn, config.Default("fairlance-test"), gw)
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.InsertProposal(ctx, domain.Proposal{
		ID: "prop-1", JobID: "job-1", ClientID: client.ID, WorkerID: worker.ID,
		Title: "Build the thing", Status: "accepted",
		CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	return testEnv{Engine: eng, Gateway: gw, Ctx: ctx}
}

func defaultPlan() []engine.MilestonePlanItem {
	return []engine.MilestonePlanItem{
		{Title: "Design", Amount: 10000},
		{Title: "Implementation", Amount: 20000},
	}
}

func createEngagement(t *testing.T, env testEnv) domain.Engagement {
	t.Helper()
	eng, err := env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-1",
		Plan:       defaultPlan(),
		Actor:      client,
	})
	if err != nil {
		t.Fatalf("create engagement: %v", err)
	}
	return eng
}

func mustAdvance(t *testing.T, env testEnv, id string, index int, target domain.WorkStatus, actor policy.Actor) domain.Engagement {
	t.Helper()
	var payload engine.MilestoneAdvancePayload
	switch target {
	case domain.WorkCompleted:
		payload.SubmissionURL = "https://example.com/deliverable.zip"
	case domain.WorkRevisionRequested:
		payload.Feedback = "needs changes"
	}
	eng, err := env.Engine.AdvanceMilestone(env.Ctx, id, index, target, payload, actor)
	if err != nil {
		t.Fatalf("advance %d to %s: %v", index, target, err)
	}
	return eng
}

// assertDerived recomputes the cached aggregate fields from the milestone
// list and compares them to what the operation returned.
func assertDerived(t *testing.T, eng domain.Engagement) {
	t.Helper()
	if got := domain.DeriveStatus(eng.Milestones); eng.Status != got {
		t.Fatalf("stored status %s, recomputed %s", eng.Status, got)
	}
	if got := domain.DeriveEscrowStatus(eng.Milestones); eng.EscrowStatus != got {
		t.Fatalf("stored escrow status %s, recomputed %s", eng.EscrowStatus, got)
	}
}

func conflictCode(t *testing.T, err error) string {
	t.Helper()
	var sc engine.StateConflictError
	if !errors.As(err, &sc) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	return sc.Code
}

func TestEngagementLifecycle(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	if eng.Status != domain.EngagementInProgress {
		t.Fatalf("new engagement status %s", eng.Status)
	}
	if eng.EscrowStatus != domain.EscrowPendingDeposit {
		t.Fatalf("new engagement escrow %s", eng.EscrowStatus)
	}
	if eng.TotalAmount != 30000 || eng.Version != 1 {
		t.Fatalf("total=%d version=%d", eng.TotalAmount, eng.Version)
	}

	mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)
	got := mustAdvance(t, env, eng.ID, 0, domain.WorkCompleted, worker)
	if got.Status != domain.EngagementInProgress {
		t.Fatalf("status after first submission %s", got.Status)
	}

	got, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if got.EscrowTotalFunded != 10000 || got.EscrowStatus != domain.EscrowPartiallyFunded {
		t.Fatalf("after fund: funded=%d escrow=%s", got.EscrowTotalFunded, got.EscrowStatus)
	}

	got, err = env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 0, "great work", client)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.AmountPaid != 10000 || got.EscrowStatus != domain.EscrowPartiallyReleased {
		t.Fatalf("after release: paid=%d escrow=%s", got.AmountPaid, got.EscrowStatus)
	}
	m := got.Milestones[0]
	if m.WorkStatus != domain.WorkPaid || m.EscrowStatus != domain.EscrowReleased {
		t.Fatalf("milestone 0 work=%s escrow=%s", m.WorkStatus, m.EscrowStatus)
	}
	if m.Feedback == nil || *m.Feedback != "great work" {
		t.Fatalf("feedback not stored")
	}

	mustAdvance(t, env, eng.ID, 1, domain.WorkInProgress, worker)
	mustAdvance(t, env, eng.ID, 1, domain.WorkCompleted, worker)
	if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 1, 20000, client); err != nil {
		t.Fatalf("fund 1: %v", err)
	}
	got, err = env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 1, "", client)
	if err != nil {
		t.Fatalf("release 1: %v", err)
	}

	if got.Status != domain.EngagementPaid {
		t.Fatalf("final status %s", got.Status)
	}
	if got.EscrowStatus != domain.EscrowFullyReleased {
		t.Fatalf("final escrow %s", got.EscrowStatus)
	}
	if got.AmountPaid != 30000 || got.EscrowTotalFunded != 30000 {
		t.Fatalf("money: paid=%d funded=%d", got.AmountPaid, got.EscrowTotalFunded)
	}
	if got.ActualEndDate == nil {
		t.Fatalf("actual end date not set")
	}
	if got.Version != 9 {
		t.Fatalf("version %d after 8 mutations", got.Version)
	}
	if err := got.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if env.Gateway.HeldTotal() != 0 {
		t.Fatalf("gateway still holds %d", env.Gateway.HeldTotal())
	}
}

func TestRevisionLoop(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)
	mustAdvance(t, env, eng.ID, 0, domain.WorkCompleted, worker)

	got, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkRevisionRequested,
		engine.MilestoneAdvancePayload{Feedback: "missing the footer"}, client)
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if got.Status != domain.EngagementRevisionRequested {
		t.Fatalf("status %s", got.Status)
	}
	if got.Milestones[0].CompletedAt != nil {
		t.Fatalf("completed_at should be cleared on revision")
	}

	// the worker cannot resubmit without resuming first
	_, err = env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted,
		engine.MilestoneAdvancePayload{SubmissionURL: "https://example.com/v2.zip"}, worker)
	if code := conflictCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("resubmit without resuming: code %s", code)
	}

	// resume, then resubmit
	got = mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)
	if got.Milestones[0].WorkStatus != domain.WorkInProgress {
		t.Fatalf("resume work status %s", got.Milestones[0].WorkStatus)
	}
	if got.Status != domain.EngagementInProgress {
		t.Fatalf("status after resume %s", got.Status)
	}
	got = mustAdvance(t, env, eng.ID, 0, domain.WorkCompleted, worker)
	if got.Milestones[0].WorkStatus != domain.WorkCompleted {
		t.Fatalf("resubmit work status %s", got.Milestones[0].WorkStatus)
	}
}

func TestAdvancePayloadRequired(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)
	mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)

	var ve engine.ValidationError
	_, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted, engine.MilestoneAdvancePayload{}, worker)
	if !errors.As(err, &ve) || ve.Field != "submission_url" {
		t.Fatalf("submission without url: %v", err)
	}

	got, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted,
		engine.MilestoneAdvancePayload{SubmissionURL: "https://example.com/design.zip"}, worker)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Milestones[0].SubmissionURL == nil || *got.Milestones[0].SubmissionURL != "https://example.com/design.zip" {
		t.Fatalf("submission url not stored")
	}

	_, err = env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkRevisionRequested, engine.MilestoneAdvancePayload{}, client)
	if !errors.As(err, &ve) || ve.Field != "feedback" {
		t.Fatalf("revision without feedback: %v", err)
	}

	if _, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkRevisionRequested,
		engine.MilestoneAdvancePayload{Feedback: "wrong font"}, client); err != nil {
		t.Fatalf("revision with feedback: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	// submit before starting
	_, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted, engine.MilestoneAdvancePayload{}, worker)
	if code := conflictCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("code %s", code)
	}
	// revision on pending work
	_, err = env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkRevisionRequested, engine.MilestoneAdvancePayload{}, client)
	if code := conflictCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("code %s", code)
	}
	// paid is not a requestable target
	_, err = env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkPaid, engine.MilestoneAdvancePayload{}, worker)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// out-of-range index
	_, err = env.Engine.FundMilestone(env.Ctx, eng.ID, 5, 100, client)
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuthorizationEnforced(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	var denied policy.DeniedError
	if _, err := env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkInProgress, engine.MilestoneAdvancePayload{}, client); !errors.As(err, &denied) {
		t.Fatalf("client starting work: %v", err)
	}
	if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, worker); !errors.As(err, &denied) {
		t.Fatalf("worker funding: %v", err)
	}
	if _, err := env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 0, "", worker); !errors.As(err, &denied) {
		t.Fatalf("worker releasing: %v", err)
	}
	if _, err := env.Engine.ReplaceMilestonePlan(env.Ctx, eng.ID, defaultPlan(), worker); !errors.As(err, &denied) {
		t.Fatalf("worker replacing plan: %v", err)
	}
	if _, err := env.Engine.GetEngagement(env.Ctx, eng.ID, stranger); !errors.As(err, &denied) {
		t.Fatalf("stranger reading: %v", err)
	}
	if _, err := env.Engine.GetEngagement(env.Ctx, eng.ID, worker); err != nil {
		t.Fatalf("worker reading: %v", err)
	}
}

func TestFundingGuards(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	// deposit must match the milestone amount exactly
	_, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 9999, client)
	if code := conflictCode(t, err); code != engine.CodeAmountMismatch {
		t.Fatalf("code %s", code)
	}
	if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client); err != nil {
		t.Fatalf("fund: %v", err)
	}
	// funding twice is rejected
	_, err = env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client)
	if code := conflictCode(t, err); code != engine.CodeAlreadyFunded {
		t.Fatalf("code %s", code)
	}
	// release before submission
	_, err = env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 0, "", client)
	if code := conflictCode(t, err); code != engine.CodeNotReady {
		t.Fatalf("code %s", code)
	}
	// release of a submitted but unfunded milestone
	mustAdvance(t, env, eng.ID, 1, domain.WorkInProgress, worker)
	mustAdvance(t, env, eng.ID, 1, domain.WorkCompleted, worker)
	_, err = env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 1, "", client)
	if code := conflictCode(t, err); code != engine.CodeNotReady {
		t.Fatalf("code %s", code)
	}
}

func TestGatewayFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	env.Gateway.FailNext = errors.New("processor down")
	_, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client)
	var pe payment.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected payment error, got %v", err)
	}

	got, err := env.Engine.GetEngagement(env.Ctx, eng.ID, client)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Version != eng.Version {
		t.Fatalf("version changed on failed fund: %d -> %d", eng.Version, got.Version)
	}
	if got.EscrowTotalFunded != 0 || got.Milestones[0].EscrowStatus != domain.EscrowNotFunded {
		t.Fatalf("escrow state changed on failed fund")
	}

	// the retry succeeds and holds exactly once
	if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client); err != nil {
		t.Fatalf("retry fund: %v", err)
	}
	if env.Gateway.HeldTotal() != 10000 {
		t.Fatalf("held %d", env.Gateway.HeldTotal())
	}
}

func TestReplacePlan(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	newPlan := []engine.MilestonePlanItem{
		{Title: "Everything", Amount: 50000},
	}
	got, err := env.Engine.ReplaceMilestonePlan(env.Ctx, eng.ID, newPlan, client)
	if err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	if got.TotalAmount != 50000 || len(got.Milestones) != 1 {
		t.Fatalf("total=%d milestones=%d", got.TotalAmount, len(got.Milestones))
	}

	// locked as soon as a milestone is started
	mustAdvance(t, env, got.ID, 0, domain.WorkInProgress, worker)
	_, err = env.Engine.ReplaceMilestonePlan(env.Ctx, got.ID, newPlan, client)
	if code := conflictCode(t, err); code != engine.CodePlanLocked {
		t.Fatalf("code %s", code)
	}
}

func TestReplacePlanLockedAfterFunding(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	// fund milestone 0 while all work is still pending
	if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client); err != nil {
		t.Fatalf("fund: %v", err)
	}
	_, err := env.Engine.ReplaceMilestonePlan(env.Ctx, eng.ID, defaultPlan(), client)
	if code := conflictCode(t, err); code != engine.CodePlanLocked {
		t.Fatalf("code %s", code)
	}
}

func TestReplacePlanLockedAfterSubmission(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)
	mustAdvance(t, env, eng.ID, 0, domain.WorkCompleted, worker)
	_, err := env.Engine.ReplaceMilestonePlan(env.Ctx, eng.ID, defaultPlan(), client)
	if code := conflictCode(t, err); code != engine.CodePlanLocked {
		t.Fatalf("code %s", code)
	}
}

func payOut(t *testing.T, env testEnv, eng domain.Engagement) domain.Engagement {
	t.Helper()
	var got domain.Engagement
	for i, m := range eng.Milestones {
		mustAdvance(t, env, eng.ID, i, domain.WorkInProgress, worker)
		mustAdvance(t, env, eng.ID, i, domain.WorkCompleted, worker)
		if _, err := env.Engine.FundMilestone(env.Ctx, eng.ID, i, m.Amount, client); err != nil {
			t.Fatalf("fund %d: %v", i, err)
		}
		var err error
		got, err = env.Engine.ReleaseMilestone(env.Ctx, eng.ID, i, "", client)
		if err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	return got
}

func TestRatings(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	// closed before completion
	_, err := env.Engine.SubmitRating(env.Ctx, eng.ID, 5, "", client)
	if code := conflictCode(t, err); code != engine.CodeRatingClosed {
		t.Fatalf("code %s", code)
	}

	final := payOut(t, env, eng)
	if final.Status != domain.EngagementPaid {
		t.Fatalf("status %s", final.Status)
	}

	got, err := env.Engine.SubmitRating(env.Ctx, eng.ID, 5, "fast and precise", client)
	if err != nil {
		t.Fatalf("client rating: %v", err)
	}
	if got.Rating == nil || got.Rating.FromClient == nil || got.Rating.FromClient.Score != 5 {
		t.Fatalf("client rating not stored: %+v", got.Rating)
	}

	// one shot per side
	_, err = env.Engine.SubmitRating(env.Ctx, eng.ID, 4, "", client)
	if code := conflictCode(t, err); code != engine.CodeAlreadyRated {
		t.Fatalf("code %s", code)
	}

	got, err = env.Engine.SubmitRating(env.Ctx, eng.ID, 4, "clear briefs", worker)
	if err != nil {
		t.Fatalf("worker rating: %v", err)
	}
	if got.Rating.FromWorker == nil || got.Rating.FromWorker.Score != 4 {
		t.Fatalf("worker rating not stored")
	}

	var denied policy.DeniedError
	if _, err := env.Engine.SubmitRating(env.Ctx, eng.ID, 3, "", stranger); !errors.As(err, &denied) {
		t.Fatalf("stranger rating: %v", err)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.SubmitRating(env.Ctx, eng.ID, 0, "", client); !errors.As(err, &ve) {
		t.Fatalf("score 0: %v", err)
	}
}

func TestDerivedFieldsMatchRecomputation(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)
	assertDerived(t, eng)

	steps := []func() (domain.Engagement, error){
		func() (domain.Engagement, error) {
			return env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkInProgress, engine.MilestoneAdvancePayload{}, worker)
		},
		func() (domain.Engagement, error) {
			return env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted,
				engine.MilestoneAdvancePayload{SubmissionURL: "https://example.com/v1.zip"}, worker)
		},
		func() (domain.Engagement, error) {
			return env.Engine.FundMilestone(env.Ctx, eng.ID, 0, 10000, client)
		},
		func() (domain.Engagement, error) {
			return env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkRevisionRequested,
				engine.MilestoneAdvancePayload{Feedback: "margins are off"}, client)
		},
		func() (domain.Engagement, error) {
			return env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkInProgress, engine.MilestoneAdvancePayload{}, worker)
		},
		func() (domain.Engagement, error) {
			return env.Engine.AdvanceMilestone(env.Ctx, eng.ID, 0, domain.WorkCompleted,
				engine.MilestoneAdvancePayload{SubmissionURL: "https://example.com/v2.zip"}, worker)
		},
		func() (domain.Engagement, error) {
			return env.Engine.ReleaseMilestone(env.Ctx, eng.ID, 0, "", client)
		},
	}
	for i, step := range steps {
		got, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		assertDerived(t, got)
		if err := got.CheckInvariants(); err != nil {
			t.Fatalf("step %d invariants: %v", i, err)
		}
	}
}

func TestCreateEngagementGuards(t *testing.T) {
	env := newTestEnv(t)

	// unknown proposal
	_, err := env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "nope", Plan: defaultPlan(), Actor: client,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown proposal: %v", err)
	}

	// only the proposal's client may create
	var denied policy.DeniedError
	_, err = env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-1", Plan: defaultPlan(), Actor: worker,
	})
	if !errors.As(err, &denied) {
		t.Fatalf("worker creating: %v", err)
	}

	// empty plan
	var ve engine.ValidationError
	_, err = env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-1", Actor: client,
	})
	if !errors.As(err, &ve) {
		t.Fatalf("empty plan: %v", err)
	}

	// non-positive amount
	_, err = env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-1",
		Plan:       []engine.MilestonePlanItem{{Title: "x", Amount: 0}},
		Actor:      client,
	})
	if !errors.As(err, &ve) {
		t.Fatalf("zero amount: %v", err)
	}

	// one engagement per proposal
	createEngagement(t, env)
	_, err = env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-1", Plan: defaultPlan(), Actor: client,
	})
	if code := conflictCode(t, err); code != engine.CodeEngagementExists {
		t.Fatalf("code %s", code)
	}

	// proposal must be accepted
	if err := env.Engine.Repo.InsertProposal(env.Ctx, domain.Proposal{
		ID: "prop-2", JobID: "job-2", ClientID: client.ID, WorkerID: worker.ID,
		Title: "Pending", Status: "pending", CreatedAt: "2026-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateEngagement(env.Ctx, engine.EngagementCreateOptions{
		ProposalID: "prop-2", Plan: defaultPlan(), Actor: client,
	})
	if code := conflictCode(t, err); code != engine.CodeInvalidTransition {
		t.Fatalf("code %s", code)
	}
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	// A stale writer loses: writing with an old expected version hits the
	// optimistic guard.
	mustAdvance(t, env, eng.ID, 0, domain.WorkInProgress, worker)

	stale := eng // version 1, but the row is at version 2
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateEngagement(env.Ctx, tx, stale, stale.Version)
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestListEngagements(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)

	for _, actor := range []policy.Actor{client, worker} {
		items, err := env.Engine.ListEngagements(env.Ctx, actor)
		if err != nil {
			t.Fatalf("list as %s: %v", actor.ID, err)
		}
		if len(items) != 1 || items[0].ID != eng.ID {
			t.Fatalf("list as %s: %d items", actor.ID, len(items))
		}
	}
	items, err := env.Engine.ListEngagements(env.Ctx, stranger)
	if err != nil {
		t.Fatalf("list as stranger: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("stranger sees %d engagements", len(items))
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	eng := createEngagement(t, env)
	payOut(t, env, eng)

	events, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 50, 0, eng.ID, "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	counts := map[string]int{}
	for _, evt := range events {
		counts[evt.Type]++
	}
	if counts["engagement.created"] != 1 {
		t.Fatalf("created events: %d", counts["engagement.created"])
	}
	if counts["milestone.funded"] != 2 || counts["milestone.released"] != 2 {
		t.Fatalf("funded=%d released=%d", counts["milestone.funded"], counts["milestone.released"])
	}
	if counts["milestone.advanced"] != 4 {
		t.Fatalf("advanced=%d", counts["milestone.advanced"])
	}
}
