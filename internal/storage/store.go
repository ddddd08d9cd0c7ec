// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/tallyhq/tally/internal/models"
)

// Sentinel errors returned by Store implementations. The service layer maps
// these onto the HTTP error taxonomy (404, 409).
var (
	// ErrNotFound indicates the addressed group, person or expense does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName indicates a person with that name already exists in the group.
	ErrDuplicateName = errors.New("a person with this name already exists in the group")

	// ErrPersonInUse indicates the person is referenced by at least one expense
	// and cannot be deleted.
	ErrPersonInUse = errors.New("person has recorded expenses")
)

// Store defines the interface for group storage operations. This abstraction
// allows swapping storage backends (SQLite, PostgreSQL, etc.) without
// changing the service layer.
//
// Groups are addressed by their externally shared code. Every mutating
// operation bumps the group's revision counter in the same transaction.
type Store interface {
	// CreateGroup persists a new group with the given display name and
	// returns it with ID, code and timestamps assigned.
	CreateGroup(ctx context.Context, name string) (*models.Group, error)

	// GetGroup retrieves a group by code including its people (ordered by
	// name) and expenses (newest first).
	GetGroup(ctx context.Context, code string) (*models.Group, error)

	// RenameGroup updates the group's display name.
	RenameGroup(ctx context.Context, code, name string) (*models.Group, error)

	// DeleteGroup removes the group, cascading to its people, expenses and
	// subscriptions. It returns the group as it was before deletion.
	DeleteGroup(ctx context.Context, code string) (*models.Group, error)

	// AddPerson adds a named participant to the group.
	// Returns ErrDuplicateName if the name is already taken in that group.
	AddPerson(ctx context.Context, code, name string) (*models.Person, error)

	// RenamePerson changes a person's name.
	// Returns ErrDuplicateName if the new name is already taken.
	RenamePerson(ctx context.Context, code, personID, name string) (*models.Person, error)

	// DeletePerson removes a person from the group. Returns ErrPersonInUse
	// while any expense still references them as payer.
	DeletePerson(ctx context.Context, code, personID string) error

	// AddExpense persists a new expense. The expense's PersonID must belong
	// to the same group. ID, CreatedAt and PayerName are populated.
	AddExpense(ctx context.Context, code string, expense *models.Expense) error

	// UpdateExpense replaces an expense's description, amount and payer.
	UpdateExpense(ctx context.Context, code string, expense *models.Expense) error

	// DeleteExpense removes an expense from the group.
	DeleteExpense(ctx context.Context, code, expenseID string) error

	// SettlementView returns person names in creation order and expenses
	// oldest first, the input order the settlement engine's determinism
	// contract is defined over.
	SettlementView(ctx context.Context, code string) ([]string, []models.Expense, error)

	// AddSubscription registers a push subscription for the group addressed
	// by code. No uniqueness is enforced; duplicates mean redundant delivery.
	AddSubscription(ctx context.Context, code string, sub *models.Subscription) error

	// ListSubscriptions returns all push subscriptions for a group (by
	// internal group ID).
	ListSubscriptions(ctx context.Context, groupID string) ([]models.Subscription, error)

	// DeleteSubscriptionByEndpoint removes every subscription row for the
	// given endpoint. Used for self-healing cleanup after a permanent
	// delivery failure; removing an unknown endpoint is a no-op.
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error

	// Close releases any resources held by the store.
	Close() error
}
