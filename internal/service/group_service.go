package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/settle"
	"github.com/tallyhq/tally/internal/storage"
)

// GroupService handles group lifecycle, settlement queries and push
// subscription registration.
type GroupService struct {
	store storage.Store
	hub   Notifier
}

// NewGroupService creates a GroupService over the given store and fan-out hub.
func NewGroupService(store storage.Store, hub Notifier) *GroupService {
	return &GroupService{store: store, hub: hub}
}

// Create makes a new, empty group.
func (s *GroupService) Create(ctx context.Context, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name is required: %w", ErrValidation)
	}

	group, err := s.store.CreateGroup(ctx, name)
	if err != nil {
		slog.Error("CreateGroup failed", "error", err)
		return nil, err
	}
	slog.Info("Group created", "group_id", group.ID, "code", group.Code)
	return group, nil
}

// Get returns the full group document.
func (s *GroupService) Get(ctx context.Context, code string) (*models.Group, error) {
	return s.store.GetGroup(ctx, code)
}

// Rename updates the group's display name and notifies all other watchers.
func (s *GroupService) Rename(ctx context.Context, code, name, excludeEndpoint string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name is required: %w", ErrValidation)
	}

	group, err := s.store.RenameGroup(ctx, code, name)
	if err != nil {
		slog.Error("RenameGroup failed", "code", code, "error", err)
		return nil, err
	}

	slog.Info("Group renamed", "group_id", group.ID, "name", name)
	notifyGroup(s.hub, group.ID, group.Code,
		"Group name updated",
		"Group updated",
		fmt.Sprintf("The group name is now %q.", group.Name),
		excludeEndpoint)
	return group, nil
}

// Delete removes the group and everything it owns, then notifies watchers.
// Subscriptions are snapshotted before the cascade removes them so the
// final push still goes out.
func (s *GroupService) Delete(ctx context.Context, code, excludeEndpoint string) error {
	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return err
	}
	subs, err := s.store.ListSubscriptions(ctx, group.ID)
	if err != nil {
		slog.Warn("Failed to snapshot subscriptions before delete", "code", code, "error", err)
	}

	if _, err := s.store.DeleteGroup(ctx, code); err != nil {
		slog.Error("DeleteGroup failed", "code", code, "error", err)
		return err
	}

	slog.Info("Group deleted", "group_id", group.ID, "name", group.Name)
	notifySubscriptions(s.hub, subs, group.Code,
		"Group deleted",
		"Group deleted",
		fmt.Sprintf("The group %s has been deleted.", group.Name),
		excludeEndpoint)
	return nil
}

func settlePayments(expenses []models.Expense) []settle.Payment {
	payments := make([]settle.Payment, len(expenses))
	for i, e := range expenses {
		payments[i] = settle.Payment{Payer: e.PayerName, Amount: e.Amount}
	}
	return payments
}

// Settlement computes each person's net position and the minimal transfer
// list from a single read of the group, so both halves of the result reflect
// the same revision.
func (s *GroupService) Settlement(ctx context.Context, code string) ([]settle.Balance, []settle.Transfer, error) {
	people, expenses, err := s.store.SettlementView(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	payments := settlePayments(expenses)
	return settle.Balances(people, payments), settle.Settle(people, payments), nil
}

// Transfers computes the minimal settlement for the group.
func (s *GroupService) Transfers(ctx context.Context, code string) ([]settle.Transfer, error) {
	_, transfers, err := s.Settlement(ctx, code)
	return transfers, err
}

// Balances computes each person's net position for the group.
func (s *GroupService) Balances(ctx context.Context, code string) ([]settle.Balance, error) {
	balances, _, err := s.Settlement(ctx, code)
	return balances, err
}

// SubscribePush registers a durable push subscription for the group.
func (s *GroupService) SubscribePush(ctx context.Context, code string, sub *models.Subscription) error {
	if sub == nil || sub.Endpoint == "" {
		return fmt.Errorf("subscription endpoint is required: %w", ErrValidation)
	}
	if err := s.store.AddSubscription(ctx, code, sub); err != nil {
		slog.Error("SubscribePush failed", "code", code, "error", err)
		return err
	}
	slog.Info("Push subscription registered", "code", code, "endpoint", sub.Endpoint)
	return nil
}
