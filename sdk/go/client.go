package fairlancesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fairlance HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Milestone mirrors the API milestone model.
type Milestone struct {
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	DueDate       string  `json:"due_date,omitempty"`
	Amount        int64   `json:"amount"`
	WorkStatus    string  `json:"work_status"`
	EscrowStatus  string  `json:"escrow_status"`
	SubmissionURL *string `json:"submission_url,omitempty"`
	Feedback      *string `json:"feedback,omitempty"`
}

// Engagement mirrors the API engagement model (partial).
type Engagement struct {
	ID                string      `json:"id"`
	ProposalID        string      `json:"proposal_id"`
	JobID             string      `json:"job_id"`
	WorkerID          string      `json:"worker_id"`
	ClientID          string      `json:"client_id"`
	Status            string      `json:"status"`
	Milestones        []Milestone `json:"milestones"`
	TotalAmount       int64       `json:"total_amount"`
	AmountPaid        int64       `json:"amount_paid"`
	EscrowTotalFunded int64       `json:"escrow_total_funded"`
	EscrowStatus      string      `json:"escrow_status"`
	Version           int64       `json:"version"`
}

// MilestonePlanItem is one entry of a milestone plan.
type MilestonePlanItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Amount      int64  `json:"amount"`
}

// Event represents a log entry.
type Event struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	EngagementID string         `json:"engagement_id"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateEngagement creates an engagement from an accepted proposal.
func (c *Client) CreateEngagement(ctx context.Context, proposalID string, plan []MilestonePlanItem, expectedEnd string) (Engagement, error) {
	body := map[string]any{
		"proposal_id": proposalID,
		"milestones":  plan,
	}
	if expectedEnd != "" {
		body["expected_end_date"] = expectedEnd
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, "v0/engagements", body, &resp)
	return resp, err
}

// GetEngagement fetches one engagement.
func (c *Client) GetEngagement(ctx context.Context, id string) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodGet, c.engagementPath(id, ""), nil, &resp)
	return resp, err
}

// ListEngagements lists the caller's engagements.
func (c *Client) ListEngagements(ctx context.Context) ([]Engagement, error) {
	var resp []Engagement
	err := c.do(ctx, http.MethodGet, "v0/engagements", nil, &resp)
	return resp, err
}

// AdvanceMilestone requests a work-status transition on one milestone.
func (c *Client) AdvanceMilestone(ctx context.Context, id string, index int, workStatus, submissionURL, feedback string) (Engagement, error) {
	body := map[string]any{"work_status": workStatus}
	if submissionURL != "" {
		body["submission_url"] = submissionURL
	}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.milestonePath(id, index, "advance"), body, &resp)
	return resp, err
}

// FundMilestone deposits the milestone amount into escrow.
func (c *Client) FundMilestone(ctx context.Context, id string, index int, amount int64) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.milestonePath(id, index, "fund"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

// ReleaseMilestone pays a funded, submitted milestone out to the worker.
func (c *Client) ReleaseMilestone(ctx context.Context, id string, index int, feedback string) (Engagement, error) {
	body := map[string]any{}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.milestonePath(id, index, "release"), body, &resp)
	return resp, err
}

// ReplacePlan swaps the milestone plan before any funding or submission.
func (c *Client) ReplacePlan(ctx context.Context, id string, plan []MilestonePlanItem) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodPut, c.engagementPath(id, "milestones"), map[string]any{"milestones": plan}, &resp)
	return resp, err
}

// SubmitRating records the caller's rating of the other party.
func (c *Client) SubmitRating(ctx context.Context, id string, score int, review string) (Engagement, error) {
	body := map[string]any{"score": score}
	if review != "" {
		body["review"] = review
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, c.engagementPath(id, "rating"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) engagementPath(id, suffix string) string {
	p := fmt.Sprintf("v0/engagements/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) milestonePath(id string, index int, action string) string {
	return fmt.Sprintf("v0/engagements/%s/milestones/%d/%s", url.PathEscape(id), index, action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
