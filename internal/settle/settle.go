// Package settle turns a group's balance sheet into a minimal list of
// pairwise transfers. It is a pure computation with no storage or transport
// dependencies; results are derived on demand and never persisted.
package settle

import "github.com/shopspring/decimal"

// tolerance is the residual below which a balance counts as settled.
// It also floors the smallest transfer the engine will emit, so
// floating-point drift in the inputs cannot produce micro-transfers.
var tolerance = decimal.NewFromFloat(0.01)

// Payment is the minimal view of an expense the engine needs: who paid and
// how much.
type Payment struct {
	Payer  string
	Amount float64
}

// Balance is one person's net position: total paid minus fair share.
// Positive means the group owes them, negative means they owe the group.
type Balance struct {
	Person string  `json:"person"`
	Amount float64 `json:"amount"`
}

// Transfer is a computed payment from one person to another that settles
// part of their balances.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// party tracks a residual balance during greedy matching. Amounts are kept
// as decimals internally so repeated subtraction stays exact.
type party struct {
	name   string
	amount decimal.Decimal
}

// Balances computes each person's net position under the equal-split model:
// everyone owes total/len(people), everyone is credited what they paid.
// Results are in insertion order of first appearance (people first, then any
// payer not already listed). Zero people or zero payments yields an empty
// slice.
func Balances(people []string, payments []Payment) []Balance {
	order, paid := tally(people, payments)
	if len(order) == 0 || len(payments) == 0 {
		return []Balance{}
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(decimal.NewFromFloat(p.Amount))
	}
	share := total.Div(decimal.NewFromInt(int64(len(order))))

	balances := make([]Balance, len(order))
	for i, name := range order {
		net := paid[name].Sub(share)
		balances[i] = Balance{Person: name, Amount: net.Round(2).InexactFloat64()}
	}
	return balances
}

// Settle produces an ordered list of transfers that brings every person's
// balance within tolerance of zero. Matching is greedy in insertion order:
// the first remaining debtor pays the first remaining creditor the smaller
// of the two residuals, and a party is dropped once its residual is within
// tolerance. The result is deterministic for a given input order and emits
// at most len(debtors)+len(creditors)-1 transfers.
func Settle(people []string, payments []Payment) []Transfer {
	order, paid := tally(people, payments)
	if len(order) == 0 || len(payments) == 0 {
		return []Transfer{}
	}

	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(decimal.NewFromFloat(p.Amount))
	}
	share := total.Div(decimal.NewFromInt(int64(len(order))))

	var debtors, creditors []party
	for _, name := range order {
		net := paid[name].Sub(share)
		switch {
		case net.Abs().LessThan(tolerance):
			// settled already, drop
		case net.IsNegative():
			debtors = append(debtors, party{name: name, amount: net.Neg()})
		default:
			creditors = append(creditors, party{name: name, amount: net})
		}
	}

	transfers := []Transfer{}
	for len(debtors) > 0 && len(creditors) > 0 {
		debtor := &debtors[0]
		creditor := &creditors[0]

		amount := decimal.Min(debtor.amount, creditor.amount)
		if amount.GreaterThanOrEqual(tolerance) {
			transfers = append(transfers, Transfer{
				From:   debtor.name,
				To:     creditor.name,
				Amount: amount.Round(2).InexactFloat64(),
			})
		}

		debtor.amount = debtor.amount.Sub(amount)
		creditor.amount = creditor.amount.Sub(amount)

		if debtor.amount.Abs().LessThan(tolerance) {
			debtors = debtors[1:]
		}
		if creditor.amount.Abs().LessThan(tolerance) {
			creditors = creditors[1:]
		}
	}

	return transfers
}

// tally returns the participant list in first-appearance order together with
// each participant's total paid. Payers missing from people are appended so
// an expense never references an unknown party.
func tally(people []string, payments []Payment) ([]string, map[string]decimal.Decimal) {
	order := make([]string, 0, len(people))
	paid := make(map[string]decimal.Decimal, len(people))

	add := func(name string) {
		if _, seen := paid[name]; !seen {
			paid[name] = decimal.Zero
			order = append(order, name)
		}
	}
	for _, name := range people {
		add(name)
	}
	for _, p := range payments {
		add(p.Payer)
		paid[p.Payer] = paid[p.Payer].Add(decimal.NewFromFloat(p.Amount))
	}
	return order, paid
}
