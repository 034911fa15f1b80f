package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fairlance/internal/config"
	"fairlance/internal/domain"
	"fairlance/internal/engine/policy"
	"fairlance/internal/events"
	"fairlance/internal/payment"
	"fairlance/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Gateway payment.Gateway
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gw payment.Gateway) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Gateway: gw,
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// MilestonePlanItem is one entry of a milestone plan as submitted by the
// client. Amounts are integer minor units.
type MilestonePlanItem struct {
	Title       string
	Description string
	DueDate     string
	Amount      int64
}

// EngagementCreateOptions are parameters for creating an engagement from an
// accepted proposal.
type EngagementCreateOptions struct {
	ProposalID      string
	Plan            []MilestonePlanItem
	ExpectedEndDate string
	Actor           policy.Actor
}

func validatePlan(plan []MilestonePlanItem) error {
	if len(plan) == 0 {
		return ValidationError{Field: "milestones", Reason: "at least one milestone is required"}
	}
	for i, item := range plan {
		if item.Title == "" {
			return ValidationError{Field: fmt.Sprintf("milestones[%d].title", i), Reason: "title is required"}
		}
		if item.Amount <= 0 {
			return ValidationError{Field: fmt.Sprintf("milestones[%d].amount", i), Reason: "amount must be positive"}
		}
	}
	return nil
}

func planToMilestones(plan []MilestonePlanItem) ([]domain.Milestone, int64) {
	milestones := make([]domain.Milestone, 0, len(plan))
	var total int64
	for _, item := range plan {
		milestones = append(milestones, domain.Milestone{
			Title:        item.Title,
			Description:  item.Description,
			DueDate:      item.DueDate,
			Amount:       item.Amount,
			WorkStatus:   domain.WorkPending,
			EscrowStatus: domain.EscrowNotFunded,
		})
		total += item.Amount
	}
	return milestones, total
}

// CreateEngagement turns an accepted proposal into a live engagement with
// the given milestone plan. Only the proposal's client may create it, and
// each proposal yields at most one engagement.
func (e Engine) CreateEngagement(ctx context.Context, opts EngagementCreateOptions) (domain.Engagement, error) {
	if opts.ProposalID == "" {
		return domain.Engagement{}, ValidationError{Field: "proposal_id", Reason: "proposal is required"}
	}
	if err := validatePlan(opts.Plan); err != nil {
		return domain.Engagement{}, err
	}
	p, err := e.Repo.GetProposal(ctx, opts.ProposalID)
	if err != nil {
		return domain.Engagement{}, err
	}
	if p.Status != "accepted" {
		return domain.Engagement{}, StateConflictError{Code: CodeInvalidTransition, Reason: fmt.Sprintf("proposal %s is %s, not accepted", p.ID, p.Status)}
	}
	if opts.Actor.ID != p.ClientID {
		return domain.Engagement{}, policy.DeniedError{Op: policy.OpCreate, Reason: "client only"}
	}
	if _, err := e.Repo.GetEngagementByProposal(ctx, opts.ProposalID); err == nil {
		return domain.Engagement{}, StateConflictError{Code: CodeEngagementExists, Reason: fmt.Sprintf("proposal %s already has an engagement", opts.ProposalID)}
	} else if err != repo.ErrNotFound {
		return domain.Engagement{}, err
	}

	now := e.timestamp()
	milestones, total := planToMilestones(opts.Plan)
	eng := domain.Engagement{
		ID:              uuid.NewString(),
		ProposalID:      p.ID,
		JobID:           p.JobID,
		WorkerID:        p.WorkerID,
		ClientID:        p.ClientID,
		Milestones:      milestones,
		TotalAmount:     total,
		Status:          domain.DeriveStatus(milestones),
		EscrowStatus:    domain.DeriveEscrowStatus(milestones),
		StartDate:       now,
		ExpectedEndDate: opts.ExpectedEndDate,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := eng.CheckInvariants(); err != nil {
		return domain.Engagement{}, InvariantViolationError{Err: err}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertEngagement(ctx, tx, eng); err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Events.Append(ctx, tx, "engagement.created", eng.ID, opts.Actor.ID, events.EventPayload{
		"proposal_id":  eng.ProposalID,
		"total_amount": eng.TotalAmount,
		"milestones":   len(eng.Milestones),
	}); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	return eng, nil
}

// GetEngagement loads an engagement, visible only to its two parties.
func (e Engine) GetEngagement(ctx context.Context, id string, actor policy.Actor) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := policy.Decide(actor, eng, policy.OpRead); err != nil {
		return domain.Engagement{}, err
	}
	return eng, nil
}

// ListEngagements lists the actor's engagements, newest first.
func (e Engine) ListEngagements(ctx context.Context, actor policy.Actor) ([]domain.Engagement, error) {
	return e.Repo.ListEngagementsForActor(ctx, actor.ID)
}

// MilestoneAdvancePayload carries the optional fields of a work-status
// transition.
type MilestoneAdvancePayload struct {
	SubmissionURL string
	Feedback      string
}

func (e Engine) milestoneAt(eng domain.Engagement, index int) (domain.Milestone, error) {
	if index < 0 || index >= len(eng.Milestones) {
		return domain.Milestone{}, ValidationError{Field: "milestone", Reason: fmt.Sprintf("index %d out of range (engagement has %d milestones)", index, len(eng.Milestones))}
	}
	return eng.Milestones[index], nil
}

// AdvanceMilestone moves one milestone's work status along the delivery
// state machine: pending→in_progress (worker starts), in_progress→
// completed (worker submits with a URL), completed→revision_requested
// (client sends it back with feedback), revision_requested→in_progress
// (worker resumes). Escrow is untouched.
func (e Engine) AdvanceMilestone(ctx context.Context, id string, index int, target domain.WorkStatus, payload MilestoneAdvancePayload, actor policy.Actor) (domain.Engagement, error) {
	op, ok := policy.AdvanceOp(target)
	if !ok {
		return domain.Engagement{}, ValidationError{Field: "work_status", Reason: fmt.Sprintf("%s is not a requestable work status", target)}
	}
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := policy.Decide(actor, eng, op); err != nil {
		return domain.Engagement{}, err
	}
	m, err := e.milestoneAt(eng, index)
	if err != nil {
		return domain.Engagement{}, err
	}

	now := e.timestamp()
	switch {
	case target == domain.WorkInProgress && (m.WorkStatus == domain.WorkPending || m.WorkStatus == domain.WorkRevisionRequested):
		m.WorkStatus = domain.WorkInProgress
	case target == domain.WorkCompleted && m.WorkStatus == domain.WorkInProgress:
		if payload.SubmissionURL == "" {
			return domain.Engagement{}, ValidationError{Field: "submission_url", Reason: "submission requires a submission_url"}
		}
		url := payload.SubmissionURL
		m.WorkStatus = domain.WorkCompleted
		m.CompletedAt = &now
		m.SubmissionURL = &url
	case target == domain.WorkRevisionRequested && m.WorkStatus == domain.WorkCompleted:
		if m.EscrowStatus == domain.EscrowReleased {
			return domain.Engagement{}, StateConflictError{Code: CodeInvalidTransition, Reason: "milestone already paid out"}
		}
		if payload.Feedback == "" {
			return domain.Engagement{}, ValidationError{Field: "feedback", Reason: "revision request requires feedback"}
		}
		fb := payload.Feedback
		m.WorkStatus = domain.WorkRevisionRequested
		m.CompletedAt = nil
		m.Feedback = &fb
	default:
		return domain.Engagement{}, StateConflictError{Code: CodeInvalidTransition, Reason: fmt.Sprintf("cannot move milestone from %s to %s", m.WorkStatus, target)}
	}
	eng.Milestones[index] = m

	return e.save(ctx, eng, actor, "milestone.advanced", events.EventPayload{
		"milestone":   index,
		"work_status": string(m.WorkStatus),
	})
}

// FundMilestone places the milestone amount in escrow via the payment
// gateway. The gateway hold happens before the local write; its idempotency
// key ties retries of the same milestone fund to a single processor hold.
func (e Engine) FundMilestone(ctx context.Context, id string, index int, amount int64, actor policy.Actor) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := policy.Decide(actor, eng, policy.OpFund); err != nil {
		return domain.Engagement{}, err
	}
	m, err := e.milestoneAt(eng, index)
	if err != nil {
		return domain.Engagement{}, err
	}
	if m.EscrowStatus != domain.EscrowNotFunded {
		return domain.Engagement{}, StateConflictError{Code: CodeAlreadyFunded, Reason: fmt.Sprintf("milestone %d escrow is %s", index, m.EscrowStatus)}
	}
	if amount != m.Amount {
		return domain.Engagement{}, StateConflictError{Code: CodeAmountMismatch, Reason: fmt.Sprintf("deposit %d does not match milestone amount %d", amount, m.Amount)}
	}

	key := fmt.Sprintf("%s/%d/hold", eng.ID, index)
	if err := e.Gateway.Hold(ctx, key, amount); err != nil {
		return domain.Engagement{}, err
	}

	now := e.timestamp()
	m.EscrowStatus = domain.EscrowFunded
	m.FundedAt = &now
	eng.Milestones[index] = m
	eng.EscrowTotalFunded += amount

	return e.save(ctx, eng, actor, "milestone.funded", events.EventPayload{
		"milestone": index,
		"amount":    amount,
	})
}

// ReleaseMilestone pays a funded, submitted milestone out to the worker.
// The work side flips to paid in the same step so escrow and delivery stay
// in lock-step.
func (e Engine) ReleaseMilestone(ctx context.Context, id string, index int, feedback string, actor policy.Actor) (domain.Engagement, error) {
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := policy.Decide(actor, eng, policy.OpRelease); err != nil {
		return domain.Engagement{}, err
	}
	m, err := e.milestoneAt(eng, index)
	if err != nil {
		return domain.Engagement{}, err
	}
	if m.EscrowStatus == domain.EscrowReleased {
		return domain.Engagement{}, StateConflictError{Code: CodeInvalidTransition, Reason: fmt.Sprintf("milestone %d already released", index)}
	}
	if m.WorkStatus != domain.WorkCompleted {
		return domain.Engagement{}, StateConflictError{Code: CodeNotReady, Reason: fmt.Sprintf("milestone %d work is %s, not completed", index, m.WorkStatus)}
	}
	if m.EscrowStatus != domain.EscrowFunded {
		return domain.Engagement{}, StateConflictError{Code: CodeNotReady, Reason: fmt.Sprintf("milestone %d escrow is %s, not funded", index, m.EscrowStatus)}
	}

	key := fmt.Sprintf("%s/%d/release", eng.ID, index)
	if err := e.Gateway.Release(ctx, key, m.Amount, eng.WorkerID); err != nil {
		return domain.Engagement{}, err
	}

	now := e.timestamp()
	m.EscrowStatus = domain.EscrowReleased
	m.WorkStatus = domain.WorkPaid
	m.ReleasedAt = &now
	m.PaidAt = &now
	if feedback != "" {
		fb := feedback
		m.Feedback = &fb
	}
	eng.Milestones[index] = m
	eng.AmountPaid += m.Amount

	allPaid := true
	for _, ms := range eng.Milestones {
		if ms.WorkStatus != domain.WorkPaid {
			allPaid = false
			break
		}
	}
	if allPaid {
		eng.ActualEndDate = &now
	}

	return e.save(ctx, eng, actor, "milestone.released", events.EventPayload{
		"milestone": index,
		"amount":    m.Amount,
	})
}

// ReplaceMilestonePlan swaps the entire milestone plan. Allowed only while
// the plan is still aspirational: no escrow activity and no milestone
// started.
func (e Engine) ReplaceMilestonePlan(ctx context.Context, id string, plan []MilestonePlanItem, actor policy.Actor) (domain.Engagement, error) {
	if err := validatePlan(plan); err != nil {
		return domain.Engagement{}, err
	}
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	if err := policy.Decide(actor, eng, policy.OpReplacePlan); err != nil {
		return domain.Engagement{}, err
	}
	for i, m := range eng.Milestones {
		if m.EscrowStatus != domain.EscrowNotFunded {
			return domain.Engagement{}, StateConflictError{Code: CodePlanLocked, Reason: fmt.Sprintf("milestone %d has escrow activity", i)}
		}
		if m.WorkStatus != domain.WorkPending {
			return domain.Engagement{}, StateConflictError{Code: CodePlanLocked, Reason: fmt.Sprintf("milestone %d work is %s", i, m.WorkStatus)}
		}
	}

	milestones, total := planToMilestones(plan)
	eng.Milestones = milestones
	eng.TotalAmount = total

	return e.save(ctx, eng, actor, "plan.replaced", events.EventPayload{
		"milestones":   len(milestones),
		"total_amount": total,
	})
}

// SubmitRating records the actor's one-shot rating of the other party.
// Ratings open once the engagement reaches completed or paid and never
// close after that.
func (e Engine) SubmitRating(ctx context.Context, id string, score int, review string, actor policy.Actor) (domain.Engagement, error) {
	if score < 1 || score > 5 {
		return domain.Engagement{}, ValidationError{Field: "score", Reason: "score must be between 1 and 5"}
	}
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}

	var role domain.RatingRole
	var op policy.Operation
	switch actor.ID {
	case eng.ClientID:
		role, op = domain.RatingFromClient, policy.OpRateAsClient
	case eng.WorkerID:
		role, op = domain.RatingFromWorker, policy.OpRateAsWorker
	default:
		return domain.Engagement{}, policy.DeniedError{Op: policy.OpRateAsClient, Reason: "not a party to this engagement"}
	}
	if err := policy.Decide(actor, eng, op); err != nil {
		return domain.Engagement{}, err
	}
	if !eng.Status.RatingOpen() {
		return domain.Engagement{}, StateConflictError{Code: CodeRatingClosed, Reason: fmt.Sprintf("engagement is %s; ratings open at completed or paid", eng.Status)}
	}
	if eng.Rating != nil {
		if (role == domain.RatingFromClient && eng.Rating.FromClient != nil) ||
			(role == domain.RatingFromWorker && eng.Rating.FromWorker != nil) {
			return domain.Engagement{}, StateConflictError{Code: CodeAlreadyRated, Reason: fmt.Sprintf("%s already rated this engagement", role)}
		}
	}

	rating := domain.Rating{Score: score, Review: review, CreatedAt: e.timestamp()}
	if eng.Rating == nil {
		eng.Rating = &domain.EngagementRating{}
	}
	switch role {
	case domain.RatingFromClient:
		eng.Rating.FromClient = &rating
	case domain.RatingFromWorker:
		eng.Rating.FromWorker = &rating
	}

	expectedVersion := eng.Version
	eng.Status = domain.DeriveStatus(eng.Milestones)
	eng.EscrowStatus = domain.DeriveEscrowStatus(eng.Milestones)
	eng.UpdatedAt = e.timestamp()
	if err := eng.CheckInvariants(); err != nil {
		return domain.Engagement{}, InvariantViolationError{Err: err}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateEngagement(ctx, tx, eng, expectedVersion); err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Repo.InsertRating(ctx, tx, eng.ID, role, rating); err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Events.Append(ctx, tx, "rating.submitted", eng.ID, actor.ID, events.EventPayload{
		"role":  string(role),
		"score": score,
	}); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	eng.Version = expectedVersion + 1
	return eng, nil
}

// save recomputes the derived fields, verifies invariants, and writes the
// engagement back under the optimistic version guard together with its
// audit event.
func (e Engine) save(ctx context.Context, eng domain.Engagement, actor policy.Actor, evtType string, payload events.EventPayload) (domain.Engagement, error) {
	expectedVersion := eng.Version
	eng.Status = domain.DeriveStatus(eng.Milestones)
	eng.EscrowStatus = domain.DeriveEscrowStatus(eng.Milestones)
	eng.UpdatedAt = e.timestamp()
	if err := eng.CheckInvariants(); err != nil {
		return domain.Engagement{}, InvariantViolationError{Err: err}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Engagement{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateEngagement(ctx, tx, eng, expectedVersion); err != nil {
		return domain.Engagement{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, eng.ID, actor.ID, payload); err != nil {
		return domain.Engagement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Engagement{}, err
	}
	eng.Version = expectedVersion + 1
	return eng, nil
}
