package server

import (
	"encoding/json"

	"fairlance/internal/domain"
	"fairlance/internal/engine"
)

// Request payloads

type MilestonePlanItemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty" format:"date-time"`
	Amount      int64  `json:"amount" minimum:"1"`
}

type CreateEngagementRequest struct {
	ProposalID      string                     `json:"proposal_id"`
	Milestones      []MilestonePlanItemRequest `json:"milestones"`
	ExpectedEndDate string                     `json:"expected_end_date,omitempty" format:"date-time"`
}

type AdvanceMilestoneRequest struct {
	WorkStatus    string `json:"work_status" enum:"in_progress,completed,revision_requested"`
	SubmissionURL string `json:"submission_url,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

type FundMilestoneRequest struct {
	Amount int64 `json:"amount" minimum:"1"`
}

type ReleaseMilestoneRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

type ReplacePlanRequest struct {
	Milestones []MilestonePlanItemRequest `json:"milestones"`
}

type SubmitRatingRequest struct {
	Score  int    `json:"score" minimum:"1" maximum:"5"`
	Review string `json:"review,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type EngagementResponse struct {
	ID                string                    `json:"id"`
	ProposalID        string                    `json:"proposal_id"`
	JobID             string                    `json:"job_id"`
	WorkerID          string                    `json:"worker_id"`
	ClientID          string                    `json:"client_id"`
	Status            string                    `json:"status" enum:"in_progress,under_review,revision_requested,payment_pending,completed,paid"`
	Milestones        []domain.Milestone        `json:"milestones"`
	TotalAmount       int64                     `json:"total_amount"`
	AmountPaid        int64                     `json:"amount_paid"`
	EscrowTotalFunded int64                     `json:"escrow_total_funded"`
	EscrowStatus      string                    `json:"escrow_status" enum:"pending_deposit,partially_funded,fully_funded,partially_released,fully_released"`
	StartDate         string                    `json:"start_date" format:"date-time"`
	ExpectedEndDate   string                    `json:"expected_end_date,omitempty" format:"date-time"`
	ActualEndDate     *string                   `json:"actual_end_date,omitempty" format:"date-time"`
	Rating            *domain.EngagementRating  `json:"rating,omitempty"`
	Version           int64                     `json:"version"`
	CreatedAt         string                    `json:"created_at" format:"date-time"`
	UpdatedAt         string                    `json:"updated_at" format:"date-time"`
}

func engagementResponse(e domain.Engagement) EngagementResponse {
	milestones := e.Milestones
	if milestones == nil {
		milestones = []domain.Milestone{}
	}
	return EngagementResponse{
		ID:                e.ID,
		ProposalID:        e.ProposalID,
		JobID:             e.JobID,
		WorkerID:          e.WorkerID,
		ClientID:          e.ClientID,
		Status:            string(e.Status),
		Milestones:        milestones,
		TotalAmount:       e.TotalAmount,
		AmountPaid:        e.AmountPaid,
		EscrowTotalFunded: e.EscrowTotalFunded,
		EscrowStatus:      string(e.EscrowStatus),
		StartDate:         e.StartDate,
		ExpectedEndDate:   e.ExpectedEndDate,
		ActualEndDate:     e.ActualEndDate,
		Rating:            e.Rating,
		Version:           e.Version,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func mapEngagements(items []domain.Engagement) []EngagementResponse {
	res := make([]EngagementResponse, 0, len(items))
	for _, e := range items {
		res = append(res, engagementResponse(e))
	}
	return res
}

func planFromRequest(items []MilestonePlanItemRequest) []engine.MilestonePlanItem {
	plan := make([]engine.MilestonePlanItem, 0, len(items))
	for _, item := range items {
		plan = append(plan, engine.MilestonePlanItem{
			Title:       item.Title,
			Description: item.Description,
			DueDate:     item.DueDate,
			Amount:      item.Amount,
		})
	}
	return plan
}

func domainWorkStatus(s string) domain.WorkStatus {
	return domain.WorkStatus(s)
}

type EventResponse struct {
	ID           int64           `json:"id"`
	TS           string          `json:"ts" format:"date-time"`
	Type         string          `json:"type"`
	EngagementID string          `json:"engagement_id,omitempty"`
	ActorID      string          `json:"actor_id"`
	Payload      json.RawMessage `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	return EventResponse{
		ID:           evt.ID,
		TS:           evt.TS,
		Type:         evt.Type,
		EngagementID: evt.EngagementID,
		ActorID:      evt.ActorID,
		Payload:      payload,
	}
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
