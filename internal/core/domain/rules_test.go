package domain

import "testing"

func TestQualificationRule_QuantizedDeposits(t *testing.T) {
	rule := DefaultRules()[EventDeposit]

	cases := []struct {
		name   string
		amount int64
		want   int64
	}{
		{"below minimum", 5_000_000, 0},
		{"exactly one quantum", 10_000_000, 1},
		{"just under two quanta", 19_999_999, 1},
		{"0.32 IRON floors to three", 32_000_000, 3},
		{"large deposit", 1_000_000_000, 100},
		{"zero amount", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rule.PointsFor(tc.amount); got != tc.want {
				t.Errorf("PointsFor(%d) = %d, want %d", tc.amount, got, tc.want)
			}
		})
	}
}

func TestQualificationRule_FlatTransfer(t *testing.T) {
	rule := DefaultRules()[EventMaspTransfer]

	if got := rule.PointsFor(0); got != 1 {
		t.Errorf("transfer with zero amount = %d points, want 1", got)
	}
	if got := rule.PointsFor(999_999_999); got != 1 {
		t.Errorf("large transfer = %d points, want flat 1", got)
	}
}

func TestQualificationRule_MintBurnNeverQualify(t *testing.T) {
	rules := DefaultRules()
	for _, et := range []EventType{EventMaspMint, EventMaspBurn} {
		if got := rules[et].PointsFor(1_000_000_000); got != 0 {
			t.Errorf("%s = %d points, want 0", et, got)
		}
	}
}

func TestRules_WithMinDeposit(t *testing.T) {
	rules := DefaultRules().WithMinDeposit(5_000_000)

	if got := rules[EventDeposit].PointsFor(10_000_000); got != 2 {
		t.Errorf("PointsFor(10_000_000) with 0.05 IRON quantum = %d, want 2", got)
	}

	// Non-positive quantum leaves the table unchanged.
	same := rules.WithMinDeposit(0)
	if same[EventDeposit].MinAmount != 5_000_000 {
		t.Errorf("WithMinDeposit(0) changed quantum to %d", same[EventDeposit].MinAmount)
	}

	// The original table is not mutated.
	if DefaultRules()[EventDeposit].MinAmount != MinDepositOre {
		t.Error("DefaultRules deposit quantum changed")
	}
}
