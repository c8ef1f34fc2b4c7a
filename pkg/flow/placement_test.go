package flow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusBuilding, "building"},
		{StatusSigning, "signing"},
		{StatusSubmitted, "submitted"},
		{StatusConfirming, "confirming"},
		{StatusConfirmed, "confirmed"},
		{StatusFailed, "failed"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusBuilding, StatusSigning, StatusSubmitted, StatusConfirming} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusConfirmed, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestPlacementHappyPath(t *testing.T) {
	p := newPlacement()
	if p.Status() != StatusBuilding {
		t.Fatalf("initial status = %s, want building", p.Status())
	}

	for _, next := range []Status{StatusSigning, StatusSubmitted, StatusConfirming, StatusConfirmed} {
		p.advance(next)
		if p.Status() != next {
			t.Fatalf("status = %s, want %s", p.Status(), next)
		}
	}
}

func TestPlacementFailFromAnyState(t *testing.T) {
	for _, from := range []Status{StatusBuilding, StatusSigning, StatusSubmitted, StatusConfirming} {
		p := newPlacement()
		for next := StatusSigning; next <= from; next++ {
			p.advance(next)
		}
		reason := errors.New("boom")
		p.fail(reason)
		if p.Status() != StatusFailed {
			t.Errorf("from %s: status = %s, want failed", from, p.Status())
		}
		if !errors.Is(p.Err(), reason) {
			t.Errorf("from %s: err = %v, want boom", from, p.Err())
		}
	}
}

func TestPlacementFailIsSticky(t *testing.T) {
	p := newPlacement()
	first := errors.New("first")
	p.fail(first)
	p.fail(errors.New("second"))
	if !errors.Is(p.Err(), first) {
		t.Errorf("err = %v, want the first failure preserved", p.Err())
	}
}

func TestPlacementIllegalTransitionPanics(t *testing.T) {
	assertPanics := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		f()
	}

	// Skipping a state is a programming error
	p := newPlacement()
	assertPanics("building -> submitted", func() { p.advance(StatusSubmitted) })

	// So is leaving a terminal state
	q := newPlacement()
	q.fail(errors.New("done"))
	assertPanics("failed -> signing", func() { q.advance(StatusSigning) })
}

func TestPlacementTxHash(t *testing.T) {
	p := newPlacement()
	if p.TxHash() != (common.Hash{}) {
		t.Error("tx hash should start zero")
	}
	h := common.HexToHash("0xabc123")
	p.recordTxHash(h)
	if p.TxHash() != h {
		t.Errorf("tx hash = %s, want %s", p.TxHash().Hex(), h.Hex())
	}
}
