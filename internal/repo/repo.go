package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fairlance/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic write loses the race:
// the engagement changed between snapshot read and commit.
var ErrVersionConflict = errors.New("engagement version conflict")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// InsertEngagement stores a freshly created engagement and its milestone
// plan inside the caller's transaction.
func (r Repo) InsertEngagement(ctx context.Context, tx *sql.Tx, e domain.Engagement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO engagements(
id,proposal_id,job_id,worker_id,client_id,status,total_amount,amount_paid,escrow_total_funded,escrow_status,
start_date,expected_end_date,actual_end_date,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProposalID, e.JobID, e.WorkerID, e.ClientID, string(e.Status),
		e.TotalAmount, e.AmountPaid, e.EscrowTotalFunded, string(e.EscrowStatus),
		e.StartDate, nullable(e.ExpectedEndDate), nullableStringPtr(e.ActualEndDate),
		e.Version, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), "proposal_id") {
			return fmt.Errorf("engagement for proposal %s already exists", e.ProposalID)
		}
		return err
	}
	return r.insertMilestones(ctx, tx, e.ID, e.Milestones)
}

func (r Repo) insertMilestones(ctx context.Context, tx *sql.Tx, engagementID string, milestones []domain.Milestone) error {
	for i, m := range milestones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO milestones(
engagement_id,position,title,description,due_date,amount,work_status,escrow_status,
submission_url,feedback,completed_at,paid_at,funded_at,released_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			engagementID, i, m.Title, nullable(m.Description), nullable(m.DueDate), m.Amount,
			string(m.WorkStatus), string(m.EscrowStatus),
			nullableStringPtr(m.SubmissionURL), nullableStringPtr(m.Feedback),
			nullableStringPtr(m.CompletedAt), nullableStringPtr(m.PaidAt),
			nullableStringPtr(m.FundedAt), nullableStringPtr(m.ReleasedAt)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEngagement writes the engagement back, guarded by the version the
// snapshot was read at. The stored version becomes expectedVersion+1; if
// another write got there first, ErrVersionConflict is returned and the
// caller's transaction must roll back.
func (r Repo) UpdateEngagement(ctx context.Context, tx *sql.Tx, e domain.Engagement, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE engagements SET
status=?, total_amount=?, amount_paid=?, escrow_total_funded=?, escrow_status=?,
expected_end_date=?, actual_end_date=?, version=?, updated_at=?
WHERE id=? AND version=?`,
		string(e.Status), e.TotalAmount, e.AmountPaid, e.EscrowTotalFunded, string(e.EscrowStatus),
		nullable(e.ExpectedEndDate), nullableStringPtr(e.ActualEndDate),
		expectedVersion+1, e.UpdatedAt, e.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrVersionConflict
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE engagement_id=?`, e.ID); err != nil {
		return err
	}
	return r.insertMilestones(ctx, tx, e.ID, e.Milestones)
}

func scanEngagementRow(row *sql.Row) (domain.Engagement, error) {
	var e domain.Engagement
	var status, escrowStatus string
	var expectedEnd, actualEnd sql.NullString
	err := row.Scan(&e.ID, &e.ProposalID, &e.JobID, &e.WorkerID, &e.ClientID,
		&status, &e.TotalAmount, &e.AmountPaid, &e.EscrowTotalFunded, &escrowStatus,
		&e.StartDate, &expectedEnd, &actualEnd, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Status = domain.EngagementStatus(status)
	e.EscrowStatus = domain.AggregateEscrowStatus(escrowStatus)
	if expectedEnd.Valid {
		e.ExpectedEndDate = expectedEnd.String
	}
	e.ActualEndDate = stringPtr(actualEnd)
	return e, nil
}

const engagementColumns = `id,proposal_id,job_id,worker_id,client_id,status,total_amount,amount_paid,escrow_total_funded,escrow_status,start_date,expected_end_date,actual_end_date,version,created_at,updated_at`

// GetEngagement loads the full aggregate: row, ordered milestones, ratings.
func (r Repo) GetEngagement(ctx context.Context, id string) (domain.Engagement, error) {
	e, err := scanEngagementRow(r.DB.QueryRowContext(ctx,
		`SELECT `+engagementColumns+` FROM engagements WHERE id=?`, id))
	if err != nil {
		return e, err
	}
	return r.hydrate(ctx, e)
}

// GetEngagementByProposal enforces the one-engagement-per-proposal lookup.
func (r Repo) GetEngagementByProposal(ctx context.Context, proposalID string) (domain.Engagement, error) {
	e, err := scanEngagementRow(r.DB.QueryRowContext(ctx,
		`SELECT `+engagementColumns+` FROM engagements WHERE proposal_id=?`, proposalID))
	if err != nil {
		return e, err
	}
	return r.hydrate(ctx, e)
}

func (r Repo) hydrate(ctx context.Context, e domain.Engagement) (domain.Engagement, error) {
	milestones, err := r.listMilestones(ctx, e.ID)
	if err != nil {
		return e, err
	}
	e.Milestones = milestones
	rating, err := r.getRating(ctx, e.ID)
	if err != nil {
		return e, err
	}
	e.Rating = rating
	return e, nil
}

func (r Repo) listMilestones(ctx context.Context, engagementID string) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT title,description,due_date,amount,work_status,escrow_status,
submission_url,feedback,completed_at,paid_at,funded_at,released_at
FROM milestones WHERE engagement_id=? ORDER BY position ASC`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		var description, dueDate, submissionURL, feedback, completedAt, paidAt, fundedAt, releasedAt sql.NullString
		var workStatus, escrowStatus string
		if err := rows.Scan(&m.Title, &description, &dueDate, &m.Amount, &workStatus, &escrowStatus,
			&submissionURL, &feedback, &completedAt, &paidAt, &fundedAt, &releasedAt); err != nil {
			return nil, err
		}
		m.WorkStatus = domain.WorkStatus(workStatus)
		m.EscrowStatus = domain.EscrowStatus(escrowStatus)
		if description.Valid {
			m.Description = description.String
		}
		if dueDate.Valid {
			m.DueDate = dueDate.String
		}
		m.SubmissionURL = stringPtr(submissionURL)
		m.Feedback = stringPtr(feedback)
		m.CompletedAt = stringPtr(completedAt)
		m.PaidAt = stringPtr(paidAt)
		m.FundedAt = stringPtr(fundedAt)
		m.ReleasedAt = stringPtr(releasedAt)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) getRating(ctx context.Context, engagementID string) (*domain.EngagementRating, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role,score,review,created_at FROM ratings WHERE engagement_id=?`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rating *domain.EngagementRating
	for rows.Next() {
		var role string
		var score int
		var review sql.NullString
		var createdAt string
		if err := rows.Scan(&role, &score, &review, &createdAt); err != nil {
			return nil, err
		}
		if rating == nil {
			rating = &domain.EngagementRating{}
		}
		entry := &domain.Rating{Score: score, CreatedAt: createdAt}
		if review.Valid {
			entry.Review = review.String
		}
		switch domain.RatingRole(role) {
		case domain.RatingFromClient:
			rating.FromClient = entry
		case domain.RatingFromWorker:
			rating.FromWorker = entry
		}
	}
	return rating, rows.Err()
}

// InsertRating appends one rating slot; the (engagement_id, role) primary
// key is the storage-level backstop for rating uniqueness.
func (r Repo) InsertRating(ctx context.Context, tx *sql.Tx, engagementID string, role domain.RatingRole, rating domain.Rating) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ratings(engagement_id,role,score,review,created_at) VALUES (?,?,?,?,?)`,
		engagementID, string(role), rating.Score, nullable(rating.Review), rating.CreatedAt)
	return err
}

// ListEngagementsForActor returns engagements where the actor is a party,
// newest first.
func (r Repo) ListEngagementsForActor(ctx context.Context, actorID string) ([]domain.Engagement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+engagementColumns+` FROM engagements
WHERE client_id=? OR worker_id=? ORDER BY created_at DESC, id DESC`, actorID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Engagement
	for rows.Next() {
		var e domain.Engagement
		var status, escrowStatus string
		var expectedEnd, actualEnd sql.NullString
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.JobID, &e.WorkerID, &e.ClientID,
			&status, &e.TotalAmount, &e.AmountPaid, &e.EscrowTotalFunded, &escrowStatus,
			&e.StartDate, &expectedEnd, &actualEnd, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.EngagementStatus(status)
		e.EscrowStatus = domain.AggregateEscrowStatus(escrowStatus)
		if expectedEnd.Valid {
			e.ExpectedEndDate = expectedEnd.String
		}
		e.ActualEndDate = stringPtr(actualEnd)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		hydrated, err := r.hydrate(ctx, res[i])
		if err != nil {
			return nil, err
		}
		res[i] = hydrated
	}
	return res, nil
}

// LatestEventsFrom pages the audit log backwards from a cursor.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, engagementID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if engagementID != "" {
		clauses = append(clauses, "engagement_id=?")
		args = append(args, engagementID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,engagement_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order; used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,engagement_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.scanEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var engagementID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &engagementID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if engagementID.Valid {
			e.EngagementID = engagementID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
