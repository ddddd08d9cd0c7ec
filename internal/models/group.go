package models

// Group represents a shared expense-tracking unit. A group exclusively owns
// its people and expenses; deleting the group cascades to both.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `json:"id"`

	// Code is the externally shared, opaque stable identifier used in URLs
	// and live-channel subscriptions. It never changes after creation.
	Code string `json:"code"`

	// Name is the display name of the group (e.g., "Flatmates", "Ski Trip").
	Name string `json:"name"`

	// Revision is bumped by the server on every accepted mutation touching
	// this group. Last write wins; the counter only lets clients detect that
	// they lost a race, it is not enforced on writes.
	Revision int64 `json:"revision"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `json:"created_at"`

	// People are the participants, ordered by name.
	People []Person `json:"people"`

	// Expenses are the group's expenses, newest first.
	Expenses []Expense `json:"expenses"`
}

// Person represents a named participant within exactly one group.
// Names are unique per group. A person cannot be deleted while any expense
// references them as payer.
type Person struct {
	// ID is the unique identifier for the person (UUID format).
	ID string `json:"id"`

	// GroupID is the group this person belongs to.
	GroupID string `json:"group_id"`

	// Name is the person's display name, unique within the group.
	Name string `json:"name"`
}

// Expense represents a single payment made by one person on behalf of the
// group. The amount is split evenly across all people in the group.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string `json:"id"`

	// GroupID is the group this expense belongs to.
	GroupID string `json:"group_id"`

	// PersonID references the payer. The payer must belong to the same group.
	PersonID string `json:"person_id"`

	// PayerName is the payer's name, denormalized into responses for display.
	PayerName string `json:"payer_name,omitempty"`

	// Description is a short human-readable label (e.g., "Groceries").
	Description string `json:"description"`

	// Amount is the positive amount paid, two-decimal fixed point.
	Amount float64 `json:"amount"`

	// CreatedAt is the Unix timestamp when the expense was recorded.
	CreatedAt int64 `json:"created_at"`
}

// Clone returns a deep copy of the group. The view cache mutates copies so
// an optimistic edit can be rolled back from the untouched original.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	out.People = make([]Person, len(g.People))
	copy(out.People, g.People)
	out.Expenses = make([]Expense, len(g.Expenses))
	copy(out.Expenses, g.Expenses)
	return &out
}
