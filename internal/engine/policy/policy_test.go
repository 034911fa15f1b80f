package policy_test

import (
	"testing"

	"fairlance/internal/domain"
	"fairlance/internal/engine/policy"
)

var engagement = domain.Engagement{
	ID:       "e1",
	ClientID: "client-1",
	WorkerID: "worker-1",
}

func TestDecideGrid(t *testing.T) {
	client := policy.Actor{ID: "client-1", Role: "client"}
	worker := policy.Actor{ID: "worker-1", Role: "worker"}
	stranger := policy.Actor{ID: "someone-else"}

	cases := []struct {
		op             policy.Operation
		client, worker bool
	}{
		{policy.OpRead, true, true},
		{policy.OpStartWork, false, true},
		{policy.OpSubmitWork, false, true},
		{policy.OpRequestRevision, true, false},
		{policy.OpFund, true, false},
		{policy.OpRelease, true, false},
		{policy.OpReplacePlan, true, false},
		{policy.OpRateAsClient, true, false},
		{policy.OpRateAsWorker, false, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			if got := policy.Decide(client, engagement, tc.op) == nil; got != tc.client {
				t.Errorf("client allowed=%v want %v", got, tc.client)
			}
			if got := policy.Decide(worker, engagement, tc.op) == nil; got != tc.worker {
				t.Errorf("worker allowed=%v want %v", got, tc.worker)
			}
			if policy.Decide(stranger, engagement, tc.op) == nil {
				t.Errorf("stranger must always be denied")
			}
		})
	}
}

func TestDecideUnknownOperation(t *testing.T) {
	err := policy.Decide(policy.Actor{ID: "client-1"}, engagement, policy.Operation("bogus"))
	if err == nil {
		t.Fatal("unknown operation must be denied")
	}
}

func TestAdvanceOp(t *testing.T) {
	cases := []struct {
		target domain.WorkStatus
		op     policy.Operation
		ok     bool
	}{
		{domain.WorkInProgress, policy.OpStartWork, true},
		{domain.WorkCompleted, policy.OpSubmitWork, true},
		{domain.WorkRevisionRequested, policy.OpRequestRevision, true},
		{domain.WorkPending, "", false},
		{domain.WorkPaid, "", false},
	}
	for _, tc := range cases {
		op, ok := policy.AdvanceOp(tc.target)
		if ok != tc.ok || op != tc.op {
			t.Errorf("AdvanceOp(%s) = %s,%v want %s,%v", tc.target, op, ok, tc.op, tc.ok)
		}
	}
}
