package domain

import "fmt"

// EngagementStatus is derived from the milestone list and cached on the
// aggregate; it is never set directly by a caller.
type EngagementStatus string

const (
	EngagementInProgress        EngagementStatus = "in_progress"
	EngagementUnderReview       EngagementStatus = "under_review"
	EngagementRevisionRequested EngagementStatus = "revision_requested"
	EngagementPaymentPending    EngagementStatus = "payment_pending"
	EngagementCompleted         EngagementStatus = "completed"
	EngagementPaid              EngagementStatus = "paid"
)

// WorkStatus tracks a milestone's delivery side.
type WorkStatus string

const (
	WorkPending           WorkStatus = "pending"
	WorkInProgress        WorkStatus = "in_progress"
	WorkCompleted         WorkStatus = "completed"
	WorkRevisionRequested WorkStatus = "revision_requested"
	WorkPaid              WorkStatus = "paid"
)

// EscrowStatus tracks a milestone's money side.
type EscrowStatus string

const (
	EscrowNotFunded EscrowStatus = "not_funded"
	EscrowFunded    EscrowStatus = "funded"
	EscrowReleased  EscrowStatus = "released"
)

// AggregateEscrowStatus is the engagement-level escrow rollup.
type AggregateEscrowStatus string

const (
	EscrowPendingDeposit    AggregateEscrowStatus = "pending_deposit"
	EscrowPartiallyFunded   AggregateEscrowStatus = "partially_funded"
	EscrowFullyFunded       AggregateEscrowStatus = "fully_funded"
	EscrowPartiallyReleased AggregateEscrowStatus = "partially_released"
	EscrowFullyReleased     AggregateEscrowStatus = "fully_released"
)

// RatingRole identifies which party left a rating.
type RatingRole string

const (
	RatingFromClient RatingRole = "client"
	RatingFromWorker RatingRole = "worker"
)

// Milestone is a priced unit of deliverable work owned by one Engagement.
// Amounts are integer minor units (cents).
type Milestone struct {
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	DueDate       string       `json:"due_date,omitempty" format:"date-time"`
	Amount        int64        `json:"amount"`
	WorkStatus    WorkStatus   `json:"work_status" enum:"pending,in_progress,completed,revision_requested,paid"`
	EscrowStatus  EscrowStatus `json:"escrow_status" enum:"not_funded,funded,released"`
	SubmissionURL *string      `json:"submission_url,omitempty"`
	Feedback      *string      `json:"feedback,omitempty"`
	CompletedAt   *string      `json:"completed_at,omitempty" format:"date-time"`
	PaidAt        *string      `json:"paid_at,omitempty" format:"date-time"`
	FundedAt      *string      `json:"funded_at,omitempty" format:"date-time"`
	ReleasedAt    *string      `json:"released_at,omitempty" format:"date-time"`
}

// Rating is one party's review of the other, given at most once per role.
type Rating struct {
	Score     int    `json:"score" minimum:"1" maximum:"5"`
	Review    string `json:"review,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EngagementRating holds the at-most-one-per-role rating slots.
type EngagementRating struct {
	FromClient *Rating `json:"from_client,omitempty"`
	FromWorker *Rating `json:"from_worker,omitempty"`
}

// Engagement is the aggregate root for one accepted proposal. Identity
// fields are immutable after creation; Status and EscrowStatus are caches
// of DeriveStatus/DeriveEscrowStatus over Milestones. Version backs the
// optimistic-concurrency guard: every committed mutation increments it.
type Engagement struct {
	ID                string                `json:"id"`
	ProposalID        string                `json:"proposal_id"`
	JobID             string                `json:"job_id"`
	WorkerID          string                `json:"worker_id"`
	ClientID          string                `json:"client_id"`
	Status            EngagementStatus      `json:"status" enum:"in_progress,under_review,revision_requested,payment_pending,completed,paid"`
	Milestones        []Milestone           `json:"milestones"`
	TotalAmount       int64                 `json:"total_amount"`
	AmountPaid        int64                 `json:"amount_paid"`
	EscrowTotalFunded int64                 `json:"escrow_total_funded"`
	EscrowStatus      AggregateEscrowStatus `json:"escrow_status" enum:"pending_deposit,partially_funded,fully_funded,partially_released,fully_released"`
	StartDate         string                `json:"start_date" format:"date-time"`
	ExpectedEndDate   string                `json:"expected_end_date,omitempty" format:"date-time"`
	ActualEndDate     *string               `json:"actual_end_date,omitempty" format:"date-time"`
	Rating            *EngagementRating     `json:"rating,omitempty"`
	Version           int64                 `json:"version"`
	CreatedAt         string                `json:"created_at" format:"date-time"`
	UpdatedAt         string                `json:"updated_at" format:"date-time"`
}

// Proposal is the accepted-proposal record from the job catalog that seeds
// an engagement. Read-only from this service's perspective.
type Proposal struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	ClientID  string `json:"client_id"`
	WorkerID  string `json:"worker_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one append-only audit log entry.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	EngagementID string `json:"engagement_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DeriveStatus computes the engagement status from the milestone list.
// A milestone in revision wins over everything; otherwise the engagement is
// paid when every milestone is paid, and once every milestone is at least
// submitted the status depends on whether money is still held (payment
// pending), partly paid with the rest unfunded (completed, possibly
// forever), or simply awaiting the client's review.
func DeriveStatus(milestones []Milestone) EngagementStatus {
	allPaid := len(milestones) > 0
	allSubmitted := len(milestones) > 0
	anyPaid := false
	anyFundedCompleted := false
	for _, m := range milestones {
		switch m.WorkStatus {
		case WorkRevisionRequested:
			return EngagementRevisionRequested
		case WorkPaid:
			anyPaid = true
		case WorkCompleted:
			allPaid = false
			if m.EscrowStatus == EscrowFunded {
				anyFundedCompleted = true
			}
		default:
			allPaid = false
			allSubmitted = false
		}
	}
	switch {
	case allPaid:
		return EngagementPaid
	case allSubmitted && anyFundedCompleted:
		return EngagementPaymentPending
	case allSubmitted && anyPaid:
		return EngagementCompleted
	case allSubmitted:
		return EngagementUnderReview
	default:
		return EngagementInProgress
	}
}

// DeriveEscrowStatus computes the aggregate escrow rollup.
func DeriveEscrowStatus(milestones []Milestone) AggregateEscrowStatus {
	released, funded := 0, 0
	for _, m := range milestones {
		switch m.EscrowStatus {
		case EscrowReleased:
			released++
		case EscrowFunded:
			funded++
		}
	}
	switch {
	case len(milestones) > 0 && released == len(milestones):
		return EscrowFullyReleased
	case released > 0:
		return EscrowPartiallyReleased
	case len(milestones) > 0 && funded == len(milestones):
		return EscrowFullyFunded
	case funded > 0:
		return EscrowPartiallyFunded
	default:
		return EscrowPendingDeposit
	}
}

// RatingOpen reports whether ratings may be submitted for an engagement in
// the given status.
func (s EngagementStatus) RatingOpen() bool {
	return s == EngagementCompleted || s == EngagementPaid
}

// CheckInvariants verifies the aggregate-level invariants: money
// conservation, cached-status derivation, and work/escrow lock-step. A
// violation is a bug in the mutation path, not a caller error.
func (e Engagement) CheckInvariants() error {
	var total, funded, paid int64
	for i, m := range e.Milestones {
		if m.Amount <= 0 {
			return fmt.Errorf("milestone %d: non-positive amount %d", i, m.Amount)
		}
		total += m.Amount
		switch m.EscrowStatus {
		case EscrowFunded:
			funded += m.Amount
		case EscrowReleased:
			funded += m.Amount
			paid += m.Amount
		}
		if (m.EscrowStatus == EscrowReleased) != (m.WorkStatus == WorkPaid) {
			return fmt.Errorf("milestone %d: escrow %s out of lock-step with work %s", i, m.EscrowStatus, m.WorkStatus)
		}
	}
	if total != e.TotalAmount {
		return fmt.Errorf("total amount %d does not match milestone sum %d", e.TotalAmount, total)
	}
	if funded != e.EscrowTotalFunded {
		return fmt.Errorf("escrow total funded %d does not match milestone sum %d", e.EscrowTotalFunded, funded)
	}
	if paid != e.AmountPaid {
		return fmt.Errorf("amount paid %d does not match milestone sum %d", e.AmountPaid, paid)
	}
	if !(e.AmountPaid <= e.EscrowTotalFunded && e.EscrowTotalFunded <= e.TotalAmount) {
		return fmt.Errorf("conservation violated: paid=%d funded=%d total=%d", e.AmountPaid, e.EscrowTotalFunded, e.TotalAmount)
	}
	if got := DeriveStatus(e.Milestones); got != e.Status {
		return fmt.Errorf("cached status %s differs from derived %s", e.Status, got)
	}
	if got := DeriveEscrowStatus(e.Milestones); got != e.EscrowStatus {
		return fmt.Errorf("cached escrow status %s differs from derived %s", e.EscrowStatus, got)
	}
	return nil
}
