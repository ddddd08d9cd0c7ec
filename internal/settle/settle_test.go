package settle

import (
	"math"
	"testing"
)

func TestSettle(t *testing.T) {
	tests := []struct {
		name         string
		people       []string
		payments     []Payment
		validateFunc func(t *testing.T, transfers []Transfer)
	}{
		{
			name:     "one payer covers everyone",
			people:   []string{"A", "B", "C"},
			payments: []Payment{{Payer: "A", Amount: 90}},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				// Fair share 30 each: A=+60, B=-30, C=-30.
				if len(transfers) != 2 {
					t.Fatalf("got %d transfers, want 2", len(transfers))
				}
				for _, tr := range transfers {
					if tr.To != "A" {
						t.Errorf("transfer to %s, want A", tr.To)
					}
					if math.Abs(tr.Amount-30.0) > 0.01 {
						t.Errorf("transfer amount = %v, want 30.0", tr.Amount)
					}
				}
				if transfers[0].From == transfers[1].From {
					t.Errorf("both transfers from %s", transfers[0].From)
				}
			},
		},
		{
			name:     "equal payments settle to nothing",
			people:   []string{"A", "B"},
			payments: []Payment{{Payer: "A", Amount: 50}, {Payer: "B", Amount: 50}},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				if len(transfers) != 0 {
					t.Errorf("got %d transfers, want 0", len(transfers))
				}
			},
		},
		{
			name:     "single person owes no one",
			people:   []string{"A"},
			payments: []Payment{{Payer: "A", Amount: 42.5}},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				if len(transfers) != 0 {
					t.Errorf("got %d transfers, want 0", len(transfers))
				}
			},
		},
		{
			name:     "no people",
			people:   nil,
			payments: []Payment{{Payer: "A", Amount: 10}},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				// A appears as payer, but alone: nothing to transfer.
				if len(transfers) != 0 {
					t.Errorf("got %d transfers, want 0", len(transfers))
				}
			},
		},
		{
			name:   "no expenses",
			people: []string{"A", "B"},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				if len(transfers) != 0 {
					t.Errorf("got %d transfers, want 0", len(transfers))
				}
			},
		},
		{
			name:   "uneven amounts chain through creditors",
			people: []string{"A", "B", "C", "D"},
			payments: []Payment{
				{Payer: "A", Amount: 100},
				{Payer: "B", Amount: 60},
			},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				// Share 40: A=+60, B=+20, C=-40, D=-40.
				// Greedy: C->A 40, D->A 20, D->B 20.
				want := []Transfer{
					{From: "C", To: "A", Amount: 40},
					{From: "D", To: "A", Amount: 20},
					{From: "D", To: "B", Amount: 20},
				}
				if len(transfers) != len(want) {
					t.Fatalf("got %d transfers, want %d: %+v", len(transfers), len(want), transfers)
				}
				for i, w := range want {
					got := transfers[i]
					if got.From != w.From || got.To != w.To || math.Abs(got.Amount-w.Amount) > 0.01 {
						t.Errorf("transfer[%d] = %+v, want %+v", i, got, w)
					}
				}
			},
		},
		{
			name:   "drift below tolerance produces nothing",
			people: []string{"A", "B", "C"},
			payments: []Payment{
				{Payer: "A", Amount: 10.00},
				{Payer: "B", Amount: 10.00},
				{Payer: "C", Amount: 10.01},
			},
			validateFunc: func(t *testing.T, transfers []Transfer) {
				// Residuals are fractions of a cent; no transfer may be emitted.
				for _, tr := range transfers {
					if tr.Amount < 0.01 {
						t.Errorf("micro-transfer emitted: %+v", tr)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfers := Settle(tt.people, tt.payments)
			tt.validateFunc(t, transfers)
		})
	}
}

// TestSettleCorrectsBalances checks the core property: applying the transfers
// brings every person within tolerance of zero.
func TestSettleCorrectsBalances(t *testing.T) {
	people := []string{"Ana", "Bea", "Carlos", "Dani", "Eva"}
	payments := []Payment{
		{Payer: "Ana", Amount: 120.30},
		{Payer: "Bea", Amount: 33.33},
		{Payer: "Carlos", Amount: 0.50},
		{Payer: "Ana", Amount: 19.99},
		{Payer: "Eva", Amount: 75.00},
	}

	net := make(map[string]float64)
	for _, b := range Balances(people, payments) {
		net[b.Person] = b.Amount
	}

	transfers := Settle(people, payments)
	for _, tr := range transfers {
		if tr.Amount <= 0 {
			t.Errorf("non-positive transfer: %+v", tr)
		}
		net[tr.From] += tr.Amount
		net[tr.To] -= tr.Amount
	}

	for person, residual := range net {
		if math.Abs(residual) > 0.011 {
			t.Errorf("%s residual = %v after settlement, want ~0", person, residual)
		}
	}

	// Never a combinatorial pairwise settlement.
	if max := len(people) - 1; len(transfers) > max {
		t.Errorf("got %d transfers, want <= %d", len(transfers), max)
	}
}

// TestSettleCreditorNeverOverpaid checks that the sum received per creditor
// never exceeds their original credit, and that the total moved equals half
// the total absolute imbalance.
func TestSettleCreditorNeverOverpaid(t *testing.T) {
	people := []string{"A", "B", "C", "D"}
	payments := []Payment{
		{Payer: "A", Amount: 80.40},
		{Payer: "B", Amount: 55.10},
		{Payer: "C", Amount: 4.50},
	}

	credit := make(map[string]float64)
	var imbalance float64
	for _, b := range Balances(people, payments) {
		imbalance += math.Abs(b.Amount)
		if b.Amount > 0 {
			credit[b.Person] = b.Amount
		}
	}

	received := make(map[string]float64)
	var moved float64
	for _, tr := range Settle(people, payments) {
		received[tr.To] += tr.Amount
		moved += tr.Amount
	}

	for person, got := range received {
		if got > credit[person]+0.011 {
			t.Errorf("%s received %v, original credit %v", person, got, credit[person])
		}
	}
	if math.Abs(moved-imbalance/2) > 0.02 {
		t.Errorf("total moved = %v, want half of imbalance %v", moved, imbalance)
	}
}

func TestSettleDeterministic(t *testing.T) {
	people := []string{"A", "B", "C", "D"}
	payments := []Payment{
		{Payer: "B", Amount: 90},
		{Payer: "D", Amount: 30},
	}

	first := Settle(people, payments)
	for i := 0; i < 10; i++ {
		again := Settle(people, payments)
		if len(again) != len(first) {
			t.Fatalf("run %d: %d transfers, first run had %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: transfer[%d] = %+v, first run had %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestBalances(t *testing.T) {
	people := []string{"A", "B", "C"}
	payments := []Payment{{Payer: "A", Amount: 90}}

	balances := Balances(people, payments)
	if len(balances) != 3 {
		t.Fatalf("got %d balances, want 3", len(balances))
	}

	want := map[string]float64{"A": 60, "B": -30, "C": -30}
	for _, b := range balances {
		if math.Abs(b.Amount-want[b.Person]) > 0.01 {
			t.Errorf("%s balance = %v, want %v", b.Person, b.Amount, want[b.Person])
		}
	}

	// Insertion order of first appearance.
	for i, name := range []string{"A", "B", "C"} {
		if balances[i].Person != name {
			t.Errorf("balances[%d] = %s, want %s", i, balances[i].Person, name)
		}
	}

	// Empty inputs yield an empty, non-nil slice so the JSON encoding is []
	// rather than null.
	if got := Balances(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("empty inputs: got %+v, want empty slice", got)
	}
	if got := Balances([]string{"A", "B"}, nil); got == nil || len(got) != 0 {
		t.Errorf("no payments: got %+v, want empty slice", got)
	}
}
