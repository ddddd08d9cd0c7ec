// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Foreign keys via DSN so every pooled connection enforces them,
	// not just the one a PRAGMA statement happens to run on.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// groupID resolves a group code to the internal group ID.
func groupID(ctx context.Context, q querier, code string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, "SELECT id FROM groups WHERE code = ?", code).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("group %s: %w", code, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve group: %w", err)
	}
	return id, nil
}

// bumpRevision increments the group's mutation counter. Must run inside the
// same transaction as the mutation it accounts for.
func bumpRevision(ctx context.Context, tx *sql.Tx, groupID string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE groups SET revision = revision + 1 WHERE id = ?", groupID,
	); err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}
	return nil
}

// CreateGroup persists a new group and returns it with identifiers assigned.
func (s *SQLiteStore) CreateGroup(ctx context.Context, name string) (*models.Group, error) {
	group := &models.Group{
		ID:        uuid.New().String(),
		Code:      uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().Unix(),
		People:    []models.Person{},
		Expenses:  []models.Expense{},
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO groups (id, code, name, revision, created_at) VALUES (?, ?, ?, 0, ?)",
		group.ID, group.Code, group.Name, group.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	return group, nil
}

// GetGroup retrieves a group by code, including people and expenses.
func (s *SQLiteStore) GetGroup(ctx context.Context, code string) (*models.Group, error) {
	group := &models.Group{People: []models.Person{}, Expenses: []models.Expense{}}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, name, revision, created_at FROM groups WHERE code = ?", code,
	).Scan(&group.ID, &group.Code, &group.Name, &group.Revision, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, group_id, name FROM persons WHERE group_id = ? ORDER BY name", group.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get people: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		group.People = append(group.People, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate people: %w", err)
	}

	expenseRows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.group_id, e.person_id, p.name, e.description, e.amount, e.created_at
		 FROM expenses e
		 JOIN persons p ON e.person_id = p.id
		 WHERE e.group_id = ?
		 ORDER BY e.created_at DESC, e.rowid DESC`, group.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get expenses: %w", err)
	}
	defer expenseRows.Close()

	for expenseRows.Next() {
		var e models.Expense
		if err := expenseRows.Scan(&e.ID, &e.GroupID, &e.PersonID, &e.PayerName,
			&e.Description, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		group.Expenses = append(group.Expenses, e)
	}
	if err := expenseRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	return group, nil
}

// RenameGroup updates the group's display name and bumps its revision.
func (s *SQLiteStore) RenameGroup(ctx context.Context, code, name string) (*models.Group, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE groups SET name = ?, revision = revision + 1 WHERE code = ?", name, code,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rename group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("group %s: %w", code, storage.ErrNotFound)
	}
	return s.GetGroup(ctx, code)
}

// DeleteGroup removes the group and everything it owns, returning the group
// as it was before deletion.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, code string) (*models.Group, error) {
	group, err := s.GetGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE code = ?", code); err != nil {
		return nil, fmt.Errorf("failed to delete group: %w", err)
	}
	return group, nil
}

// AddPerson adds a named participant to the group.
func (s *SQLiteStore) AddPerson(ctx context.Context, code, name string) (*models.Person, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM persons WHERE group_id = ? AND name = ?)", gid, name,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check name: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("person %q: %w", name, storage.ErrDuplicateName)
	}

	person := &models.Person{ID: uuid.New().String(), GroupID: gid, Name: name}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO persons (id, group_id, name) VALUES (?, ?, ?)",
		person.ID, person.GroupID, person.Name,
	); err != nil {
		return nil, fmt.Errorf("failed to insert person: %w", err)
	}
	if err := bumpRevision(ctx, tx, gid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return person, nil
}

// RenamePerson changes a person's name within the group.
func (s *SQLiteStore) RenamePerson(ctx context.Context, code, personID, name string) (*models.Person, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM persons WHERE group_id = ? AND name = ? AND id != ?)",
		gid, name, personID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check name: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("person %q: %w", name, storage.ErrDuplicateName)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE persons SET name = ? WHERE id = ? AND group_id = ?", name, personID, gid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rename person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("person %s: %w", personID, storage.ErrNotFound)
	}
	if err := bumpRevision(ctx, tx, gid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &models.Person{ID: personID, GroupID: gid, Name: name}, nil
}

// DeletePerson removes a person unless an expense still references them.
func (s *SQLiteStore) DeletePerson(ctx context.Context, code, personID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return err
	}

	var inUse bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM expenses WHERE person_id = ?)", personID,
	).Scan(&inUse); err != nil {
		return fmt.Errorf("failed to check expenses: %w", err)
	}
	if inUse {
		return fmt.Errorf("person %s: %w", personID, storage.ErrPersonInUse)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM persons WHERE id = ? AND group_id = ?", personID, gid,
	)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("person %s: %w", personID, storage.ErrNotFound)
	}
	if err := bumpRevision(ctx, tx, gid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// payerName verifies the payer belongs to the group and returns their name.
func payerName(ctx context.Context, q querier, gid, personID string) (string, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM persons WHERE id = ? AND group_id = ?", personID, gid,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("payer %s: %w", personID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up payer: %w", err)
	}
	return name, nil
}

// AddExpense persists a new expense paid by one of the group's people.
func (s *SQLiteStore) AddExpense(ctx context.Context, code string, expense *models.Expense) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return err
	}
	payer, err := payerName(ctx, tx, gid, expense.PersonID)
	if err != nil {
		return err
	}

	expense.ID = uuid.New().String()
	expense.GroupID = gid
	expense.PayerName = payer
	expense.CreatedAt = time.Now().Unix()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO expenses (id, group_id, person_id, description, amount, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		expense.ID, expense.GroupID, expense.PersonID, expense.Description, expense.Amount, expense.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	if err := bumpRevision(ctx, tx, gid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateExpense replaces an expense's description, amount and payer.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, code string, expense *models.Expense) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return err
	}
	payer, err := payerName(ctx, tx, gid, expense.PersonID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE expenses SET description = ?, amount = ?, person_id = ? WHERE id = ? AND group_id = ?",
		expense.Description, expense.Amount, expense.PersonID, expense.ID, gid,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("expense %s: %w", expense.ID, storage.ErrNotFound)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT created_at FROM expenses WHERE id = ?", expense.ID,
	).Scan(&expense.CreatedAt); err != nil {
		return fmt.Errorf("failed to read expense: %w", err)
	}
	expense.GroupID = gid
	expense.PayerName = payer

	if err := bumpRevision(ctx, tx, gid); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense from the group.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, code, expenseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, code)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND group_id = ?", expenseID, gid,
	)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("expense %s: %w", expenseID, storage.ErrNotFound)
	}
	if err := bumpRevision(ctx, tx, gid); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SettlementView returns person names in creation order and expenses oldest
// first, matching the settlement engine's insertion-order contract.
func (s *SQLiteStore) SettlementView(ctx context.Context, code string) ([]string, []models.Expense, error) {
	gid, err := groupID(ctx, s.db, code)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM persons WHERE group_id = ? ORDER BY rowid", gid,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get people: %w", err)
	}
	defer rows.Close()

	var people []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, name)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate people: %w", err)
	}

	expenseRows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.group_id, e.person_id, p.name, e.description, e.amount, e.created_at
		 FROM expenses e
		 JOIN persons p ON e.person_id = p.id
		 WHERE e.group_id = ?
		 ORDER BY e.created_at, e.rowid`, gid,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get expenses: %w", err)
	}
	defer expenseRows.Close()

	var expenses []models.Expense
	for expenseRows.Next() {
		var e models.Expense
		if err := expenseRows.Scan(&e.ID, &e.GroupID, &e.PersonID, &e.PayerName,
			&e.Description, &e.Amount, &e.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := expenseRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	return people, expenses, nil
}

// AddSubscription registers a push subscription for the group.
func (s *SQLiteStore) AddSubscription(ctx context.Context, code string, sub *models.Subscription) error {
	gid, err := groupID(ctx, s.db, code)
	if err != nil {
		return err
	}

	sub.ID = uuid.New().String()
	sub.GroupID = gid
	sub.CreatedAt = time.Now().Unix()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO push_subscriptions (id, group_id, endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sub.ID, sub.GroupID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all push subscriptions for a group.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, groupID string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, group_id, endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE group_id = ?",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ID, &sub.GroupID, &sub.Endpoint,
			&sub.Keys.P256dh, &sub.Keys.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscriptionByEndpoint removes every subscription row for the endpoint.
func (s *SQLiteStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint,
	); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
