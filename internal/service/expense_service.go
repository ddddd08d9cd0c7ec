package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/storage"
)

// ExpenseService handles the expense ledger.
type ExpenseService struct {
	store storage.Store
	hub   Notifier
}

// NewExpenseService creates an ExpenseService over the given store and fan-out hub.
func NewExpenseService(store storage.Store, hub Notifier) *ExpenseService {
	return &ExpenseService{store: store, hub: hub}
}

func validateExpense(description string, amount float64, personID string) (string, float64, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", 0, fmt.Errorf("expense description is required: %w", ErrValidation)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", 0, fmt.Errorf("expense amount must be positive: %w", ErrValidation)
	}
	if personID == "" {
		return "", 0, fmt.Errorf("expense payer is required: %w", ErrValidation)
	}
	// Amounts are stored at cent precision.
	return description, math.Round(amount*100) / 100, nil
}

// Add records a new expense paid by one person.
func (s *ExpenseService) Add(ctx context.Context, code string, description string, amount float64, personID, excludeEndpoint string) (*models.Expense, error) {
	description, amount, err := validateExpense(description, amount, personID)
	if err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	expense := &models.Expense{
		PersonID:    personID,
		Description: description,
		Amount:      amount,
	}
	if err := s.store.AddExpense(ctx, code, expense); err != nil {
		slog.Error("AddExpense failed", "code", code, "error", err)
		return nil, err
	}

	slog.Info("Expense added", "group_id", group.ID, "expense_id", expense.ID, "amount", expense.Amount)
	notifyGroup(s.hub, group.ID, group.Code,
		"New expense added",
		fmt.Sprintf("Group: %s", group.Name),
		fmt.Sprintf("New expense: %q.", expense.Description),
		excludeEndpoint)
	return expense, nil
}

// Update rewrites an existing expense's description, amount and payer.
func (s *ExpenseService) Update(ctx context.Context, code, expenseID string, description string, amount float64, personID, excludeEndpoint string) (*models.Expense, error) {
	description, amount, err := validateExpense(description, amount, personID)
	if err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	expense := &models.Expense{
		ID:          expenseID,
		PersonID:    personID,
		Description: description,
		Amount:      amount,
	}
	if err := s.store.UpdateExpense(ctx, code, expense); err != nil {
		slog.Error("UpdateExpense failed", "code", code, "expense_id", expenseID, "error", err)
		return nil, err
	}

	slog.Info("Expense updated", "group_id", group.ID, "expense_id", expenseID)
	notifyGroup(s.hub, group.ID, group.Code,
		"Expense updated",
		fmt.Sprintf("Group: %s", group.Name),
		fmt.Sprintf("Expense updated: %q.", expense.Description),
		excludeEndpoint)
	return expense, nil
}

// Delete removes an expense from the ledger.
func (s *ExpenseService) Delete(ctx context.Context, code, expenseID, excludeEndpoint string) error {
	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExpense(ctx, code, expenseID); err != nil {
		slog.Error("DeleteExpense failed", "code", code, "expense_id", expenseID, "error", err)
		return err
	}

	slog.Info("Expense deleted", "group_id", group.ID, "expense_id", expenseID)
	notifyGroup(s.hub, group.ID, group.Code,
		"Expense deleted",
		fmt.Sprintf("Group: %s", group.Name),
		"An expense was removed.",
		excludeEndpoint)
	return nil
}
