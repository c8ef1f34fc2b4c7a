package book

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/order"
)

// Level is one resting price level in a book snapshot: derived view
// data, never persisted independently of its source signed order.
// User + BlockHeight locate the original announcement so the full
// signed order can be re-fetched from chain history.
type Level struct {
	UnitPrice   *big.Int       `json:"unitPrice"`
	Size        *big.Int       `json:"size"`
	User        common.Address `json:"user"`
	BlockHeight uint64         `json:"blockHeight"`
}

// RestingOrder pairs an announced signed order with the block height it
// was announced at. Snapshot construction input.
type RestingOrder struct {
	Order       *order.SignedOrder
	BlockHeight uint64
}

// Snapshot is an immutable view of both sides of the book for one
// option contract. Buys are ordered by descending unit price (best bid
// first), sells by ascending unit price (best ask first). Snapshots are
// rebuilt wholesale on every refresh and discarded after one walk;
// there is no incremental mutation.
type Snapshot struct {
	PositionHash common.Hash
	Buys         []Level
	Sells        []Level
}

// BuildSnapshot constructs a fresh snapshot from announced orders.
// Offers expired at `now` are filtered out before matching ever sees
// them, and orders for other contracts are ignored.
func BuildSnapshot(positionHash common.Hash, resting []RestingOrder, now time.Time) *Snapshot {
	snap := &Snapshot{PositionHash: positionHash}
	nowSec := uint64(now.Unix())
	for _, r := range resting {
		o := r.Order
		if o.PositionHash() != positionHash {
			continue
		}
		if o.OfferExpire <= nowSec {
			continue
		}
		lvl := Level{
			UnitPrice:   o.UnitPrice(),
			Size:        new(big.Int).Set(o.Size),
			User:        o.Signer,
			BlockHeight: r.BlockHeight,
		}
		if o.IsBuy {
			snap.Buys = append(snap.Buys, lvl)
		} else {
			snap.Sells = append(snap.Sells, lvl)
		}
	}
	sort.SliceStable(snap.Buys, func(i, j int) bool {
		return snap.Buys[i].UnitPrice.Cmp(snap.Buys[j].UnitPrice) > 0
	})
	sort.SliceStable(snap.Sells, func(i, j int) bool {
		return snap.Sells[i].UnitPrice.Cmp(snap.Sells[j].UnitPrice) < 0
	})
	return snap
}

// Side returns the levels resting on the given side.
func (s *Snapshot) Side(side order.Side) []Level {
	if side == order.Buy {
		return s.Buys
	}
	return s.Sells
}

// Depth is the total resting size on one side.
func (s *Snapshot) Depth(side order.Side) *big.Int {
	total := new(big.Int)
	for _, lvl := range s.Side(side) {
		total.Add(total, lvl.Size)
	}
	return total
}

// BestUnitPrice returns the best price on a side (best bid for buys,
// best ask for sells), or nil for an empty side. Used as the displayed
// market price.
func (s *Snapshot) BestUnitPrice(side order.Side) *big.Int {
	levels := s.Side(side)
	if len(levels) == 0 {
		return nil
	}
	return levels[0].UnitPrice
}
