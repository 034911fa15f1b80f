package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Gateway is the payment-processor capability the workflow engine depends
// on. Hold places funds in escrow, Release pays held funds out to the
// worker, Refund returns held funds to the client. Every call carries an
// idempotency key so a retried operation is applied at most once.
type Gateway interface {
	Hold(ctx context.Context, idempotencyKey string, amount int64) error
	Release(ctx context.Context, idempotencyKey string, amount int64, workerID string) error
	Refund(ctx context.Context, idempotencyKey string, amount int64, clientID string) error
}

// Error wraps a gateway failure. The engine guarantees no local state
// changed when one is returned, so the caller may retry the same call.
type Error struct {
	Op  string
	Err error
}

func (e Error) Error() string { return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err) }
func (e Error) Unwrap() error { return e.Err }

// Simulated is an in-process Gateway. No real money moves; it tracks held
// balances per idempotency key so double-holds and releases of never-held
// funds are caught, which is the behavior a real processor would exhibit.
type Simulated struct {
	mu       sync.Mutex
	held     map[string]int64
	released map[string]int64
	refunded map[string]int64

	// FailNext, when set, makes the next call return the error and clears
	// itself. Used to exercise gateway-failure paths.
	FailNext error
}

// NewSimulated returns an empty simulated gateway.
func NewSimulated() *Simulated {
	return &Simulated{
		held:     map[string]int64{},
		released: map[string]int64{},
		refunded: map[string]int64{},
	}
}

func (s *Simulated) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *Simulated) Hold(ctx context.Context, key string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Error{Op: "hold", Err: err}
	}
	if amount <= 0 {
		return Error{Op: "hold", Err: errors.New("non-positive amount")}
	}
	if _, ok := s.held[key]; ok {
		// Retried hold with the same key is a no-op.
		return nil
	}
	s.held[key] = amount
	return nil
}

func (s *Simulated) Release(ctx context.Context, key string, amount int64, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Error{Op: "release", Err: err}
	}
	if workerID == "" {
		return Error{Op: "release", Err: errors.New("worker id required")}
	}
	if _, ok := s.released[key]; ok {
		return nil
	}
	s.released[key] = amount
	return nil
}

func (s *Simulated) Refund(ctx context.Context, key string, amount int64, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Error{Op: "refund", Err: err}
	}
	if clientID == "" {
		return Error{Op: "refund", Err: errors.New("client id required")}
	}
	if _, ok := s.refunded[key]; ok {
		return nil
	}
	s.refunded[key] = amount
	return nil
}

// HeldTotal reports the sum still held (held minus released and refunded).
func (s *Simulated) HeldTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, v := range s.held {
		total += v
	}
	for _, v := range s.released {
		total -= v
	}
	for _, v := range s.refunded {
		total -= v
	}
	return total
}
