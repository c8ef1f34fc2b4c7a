package flow

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/order"
)

// Status is the lifecycle state of one order placement.
//
//	building -> signing -> submitted -> confirming -> confirmed
//	                  \-> failed      (any non-terminal state)
type Status int

const (
	StatusBuilding Status = iota
	StatusSigning
	StatusSubmitted
	StatusConfirming
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "building"
	case StatusSigning:
		return "signing"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirming:
		return "confirming"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Placement is an observable record of a single order placement flow.
// The transaction hash is recorded the moment settlement returns it, so
// a UI can keep tracking the transaction even if the flow is
// interrupted before confirmation. Failed placements are never retried
// automatically: re-initiating re-fetches the nonce and re-walks depth.
type Placement struct {
	mu sync.Mutex

	status Status
	txHash common.Hash
	err    error

	// Populated as the flow progresses.
	Order          *order.SignedOrder
	Counterparties []*order.SignedOrder
}

func newPlacement() *Placement {
	return &Placement{status: StatusBuilding}
}

func (p *Placement) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// TxHash returns the settlement transaction hash, zero until submitted.
func (p *Placement) TxHash() common.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txHash
}

// Err returns the failure reason for a failed placement.
func (p *Placement) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// advance moves to the next state, enforcing legal transitions. A bad
// transition is a programming error.
func (p *Placement) advance(next Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Terminal() {
		panic(fmt.Sprintf("placement: transition from terminal state %s to %s", p.status, next))
	}
	if next != StatusFailed && next != p.status+1 {
		panic(fmt.Sprintf("placement: illegal transition %s -> %s", p.status, next))
	}
	p.status = next
}

func (p *Placement) recordTxHash(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txHash = hash
}

// fail marks the placement terminally failed with a reason.
func (p *Placement) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Terminal() {
		return
	}
	p.status = StatusFailed
	p.err = err
}
