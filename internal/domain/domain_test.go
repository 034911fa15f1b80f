package domain_test

import (
	"testing"

	"fairlance/internal/domain"
)

func ms(work domain.WorkStatus, escrow domain.EscrowStatus, amount int64) domain.Milestone {
	return domain.Milestone{Title: "m", Amount: amount, WorkStatus: work, EscrowStatus: escrow}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name       string
		milestones []domain.Milestone
		want       domain.EngagementStatus
	}{
		{"all pending", []domain.Milestone{
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
		}, domain.EngagementInProgress},
		{"one in progress", []domain.Milestone{
			ms(domain.WorkInProgress, domain.EscrowFunded, 100),
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
		}, domain.EngagementInProgress},
		{"revision wins over everything", []domain.Milestone{
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
			ms(domain.WorkRevisionRequested, domain.EscrowFunded, 100),
		}, domain.EngagementRevisionRequested},
		{"all submitted unfunded", []domain.Milestone{
			ms(domain.WorkCompleted, domain.EscrowNotFunded, 100),
			ms(domain.WorkCompleted, domain.EscrowNotFunded, 100),
		}, domain.EngagementUnderReview},
		{"all submitted with funded completed", []domain.Milestone{
			ms(domain.WorkCompleted, domain.EscrowFunded, 100),
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
		}, domain.EngagementPaymentPending},
		{"some paid rest unfunded submitted", []domain.Milestone{
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
			ms(domain.WorkCompleted, domain.EscrowNotFunded, 100),
		}, domain.EngagementCompleted},
		{"all paid", []domain.Milestone{
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
		}, domain.EngagementPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.DeriveStatus(tc.milestones); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestDeriveEscrowStatus(t *testing.T) {
	cases := []struct {
		name       string
		milestones []domain.Milestone
		want       domain.AggregateEscrowStatus
	}{
		{"nothing funded", []domain.Milestone{
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
		}, domain.EscrowPendingDeposit},
		{"partially funded", []domain.Milestone{
			ms(domain.WorkPending, domain.EscrowFunded, 100),
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
		}, domain.EscrowPartiallyFunded},
		{"fully funded", []domain.Milestone{
			ms(domain.WorkPending, domain.EscrowFunded, 100),
			ms(domain.WorkPending, domain.EscrowFunded, 100),
		}, domain.EscrowFullyFunded},
		{"partially released", []domain.Milestone{
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
			ms(domain.WorkPending, domain.EscrowNotFunded, 100),
		}, domain.EscrowPartiallyReleased},
		{"fully released", []domain.Milestone{
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
			ms(domain.WorkPaid, domain.EscrowReleased, 100),
		}, domain.EscrowFullyReleased},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.DeriveEscrowStatus(tc.milestones); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func validEngagement() domain.Engagement {
	milestones := []domain.Milestone{
		ms(domain.WorkPaid, domain.EscrowReleased, 100),
		ms(domain.WorkCompleted, domain.EscrowFunded, 200),
		ms(domain.WorkPending, domain.EscrowNotFunded, 300),
	}
	return domain.Engagement{
		ID:                "e1",
		Milestones:        milestones,
		TotalAmount:       600,
		EscrowTotalFunded: 300,
		AmountPaid:        100,
		Status:            domain.DeriveStatus(milestones),
		EscrowStatus:      domain.DeriveEscrowStatus(milestones),
	}
}

func TestCheckInvariants(t *testing.T) {
	e := validEngagement()
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("valid engagement failed: %v", err)
	}

	t.Run("total mismatch", func(t *testing.T) {
		e := validEngagement()
		e.TotalAmount = 700
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("funded mismatch", func(t *testing.T) {
		e := validEngagement()
		e.EscrowTotalFunded = 200
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("paid mismatch", func(t *testing.T) {
		e := validEngagement()
		e.AmountPaid = 0
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("lock-step broken", func(t *testing.T) {
		e := validEngagement()
		e.Milestones[0].WorkStatus = domain.WorkCompleted
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error for released escrow without paid work")
		}
	})
	t.Run("stale cached status", func(t *testing.T) {
		e := validEngagement()
		e.Status = domain.EngagementPaid
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("non-positive amount", func(t *testing.T) {
		e := validEngagement()
		e.Milestones[2].Amount = 0
		e.TotalAmount = 300
		if err := e.CheckInvariants(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRatingOpen(t *testing.T) {
	open := []domain.EngagementStatus{domain.EngagementCompleted, domain.EngagementPaid}
	closed := []domain.EngagementStatus{
		domain.EngagementInProgress, domain.EngagementUnderReview,
		domain.EngagementRevisionRequested, domain.EngagementPaymentPending,
	}
	for _, s := range open {
		if !s.RatingOpen() {
			t.Errorf("%s should accept ratings", s)
		}
	}
	for _, s := range closed {
		if s.RatingOpen() {
			t.Errorf("%s should not accept ratings", s)
		}
	}
}
