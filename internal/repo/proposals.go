package repo

import (
	"context"
	"database/sql"

	"fairlance/internal/domain"
)

// GetProposal looks up a proposal from the catalog.
func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,job_id,client_id,worker_id,title,status,created_at FROM proposals WHERE id=?`, id)
	var p domain.Proposal
	err := row.Scan(&p.ID, &p.JobID, &p.ClientID, &p.WorkerID, &p.Title, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// InsertProposal seeds the proposal catalog; used by the CLI and tests.
func (r Repo) InsertProposal(ctx context.Context, p domain.Proposal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO proposals(id,job_id,client_id,worker_id,title,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.ClientID, p.WorkerID, p.Title, p.Status, p.CreatedAt)
	return err
}

// ListProposals returns all proposals, newest first.
func (r Repo) ListProposals(ctx context.Context) ([]domain.Proposal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,job_id,client_id,worker_id,title,status,created_at FROM proposals ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		if err := rows.Scan(&p.ID, &p.JobID, &p.ClientID, &p.WorkerID, &p.Title, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
