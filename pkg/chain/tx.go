package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values follow the EVM convention.
const (
	ReceiptStatusReverted = uint64(0)
	ReceiptStatusSuccess  = uint64(1)
)

// Receipt is the mined outcome of a settlement transaction.
type Receipt struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Status      uint64      `json:"status"`
}

// SettlementRevertedError is terminal for a placement flow. It carries
// the transaction hash so the failure can be looked up later.
type SettlementRevertedError struct {
	TxHash common.Hash
	Reason string
}

func (e *SettlementRevertedError) Error() string {
	return fmt.Sprintf("settlement transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

// TxHandle tracks a submitted transaction. The hash is available
// immediately so a UI can record it even if the process is interrupted
// before confirmation; Await blocks until the receipt is mined.
type TxHandle struct {
	Hash common.Hash

	done    chan struct{}
	receipt *Receipt
	err     error
}

func newTxHandle(hash common.Hash) *TxHandle {
	return &TxHandle{Hash: hash, done: make(chan struct{})}
}

func (h *TxHandle) complete(receipt *Receipt, err error) {
	h.receipt = receipt
	h.err = err
	close(h.done)
}

// Await blocks until the transaction is mined. A reverted transaction
// fails with *SettlementRevertedError; the receipt is returned in both
// cases when available.
func (h *TxHandle) Await(ctx context.Context) (*Receipt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.receipt, h.err
	}
}
