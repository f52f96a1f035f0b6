package domain

// MinDepositOre is the default smallest qualifying deposit, 0.1 IRON
// expressed in ore (1 IRON = 10^8 ore).
const MinDepositOre int64 = 10_000_000

// QualificationRule decides whether a ledger row earns points and how many.
type QualificationRule struct {
	// MinAmount is the smallest qualifying amount. For quantized rules it is
	// also the quantum size.
	MinAmount int64
	// Points is the point value. For quantized rules it is the value per
	// quantum; otherwise a flat value independent of amount.
	Points int64
	// Quantized scales points with floor(amount / MinAmount).
	Quantized bool
}

// PointsFor returns the points an amount earns under the rule. Zero means the
// row does not qualify and must not carry a reward event.
func (r QualificationRule) PointsFor(amount int64) int64 {
	if r.Quantized {
		if r.MinAmount <= 0 {
			return 0
		}
		return (amount / r.MinAmount) * r.Points
	}
	if amount < r.MinAmount {
		return 0
	}
	return r.Points
}

// Rules is the closed qualification table, event category to rule.
type Rules map[EventType]QualificationRule

// DefaultRules returns the standard incentive program table: deposits earn
// one point per 0.1 IRON, MASP transfers earn a flat point, mints and burns
// are tracked but never qualify.
func DefaultRules() Rules {
	return Rules{
		EventDeposit:      {MinAmount: MinDepositOre, Points: 1, Quantized: true},
		EventMaspTransfer: {Points: 1},
		EventMaspMint:     {},
		EventMaspBurn:     {},
	}
}

// WithMinDeposit returns a copy of the rules with the deposit quantum
// replaced. A non-positive value leaves the table unchanged.
func (rules Rules) WithMinDeposit(minAmount int64) Rules {
	if minAmount <= 0 {
		return rules
	}
	out := make(Rules, len(rules))
	for t, r := range rules {
		out[t] = r
	}
	r := out[EventDeposit]
	r.MinAmount = minAmount
	out[EventDeposit] = r
	return out
}
