package policy

import (
	"fmt"

	"fairlance/internal/domain"
)

// Actor is the authenticated principal handed to every workflow operation.
type Actor struct {
	ID   string
	Role string
}

// Operation is the closed set of workflow operations subject to
// authorization.
type Operation string

const (
	OpCreate          Operation = "engagement.create"
	OpRead            Operation = "engagement.read"
	OpStartWork       Operation = "milestone.start"
	OpSubmitWork      Operation = "milestone.submit"
	OpRequestRevision Operation = "milestone.request_revision"
	OpFund            Operation = "milestone.fund"
	OpRelease         Operation = "milestone.release"
	OpReplacePlan     Operation = "plan.replace"
	OpRateAsClient    Operation = "rating.client"
	OpRateAsWorker    Operation = "rating.worker"
)

// Relation is the required relationship between an actor and an engagement.
type Relation int

const (
	RelationClient Relation = iota
	RelationWorker
	RelationParticipant
)

// relations is the single source of truth for which side of an engagement
// may invoke which operation.
var relations = map[Operation]Relation{
	OpCreate:          RelationClient,
	OpRead:            RelationParticipant,
	OpStartWork:       RelationWorker,
	OpSubmitWork:      RelationWorker,
	OpRequestRevision: RelationClient,
	OpFund:            RelationClient,
	OpRelease:         RelationClient,
	OpReplacePlan:     RelationClient,
	OpRateAsClient:    RelationClient,
	OpRateAsWorker:    RelationWorker,
}

// DeniedError indicates the actor is not allowed to perform the operation.
type DeniedError struct {
	Op     Operation
	Reason string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("not authorized for %s: %s", e.Op, e.Reason)
}

// Decide is the single authorization decision point: given the actor, the
// engagement's relationship fields, and the operation, it returns nil to
// allow or a DeniedError. It is a pure function with no I/O.
func Decide(actor Actor, e domain.Engagement, op Operation) error {
	rel, ok := relations[op]
	if !ok {
		return DeniedError{Op: op, Reason: "unknown operation"}
	}
	switch rel {
	case RelationClient:
		if actor.ID != e.ClientID {
			return DeniedError{Op: op, Reason: "client only"}
		}
	case RelationWorker:
		if actor.ID != e.WorkerID {
			return DeniedError{Op: op, Reason: "worker only"}
		}
	case RelationParticipant:
		if actor.ID != e.ClientID && actor.ID != e.WorkerID {
			return DeniedError{Op: op, Reason: "not a party to this engagement"}
		}
	}
	return nil
}

// AdvanceOp maps a requested work-status target to its operation tag so
// milestone transitions share the same decision table as everything else.
func AdvanceOp(target domain.WorkStatus) (Operation, bool) {
	switch target {
	case domain.WorkInProgress:
		return OpStartWork, true
	case domain.WorkCompleted:
		return OpSubmitWork, true
	case domain.WorkRevisionRequested:
		return OpRequestRevision, true
	default:
		return "", false
	}
}
