package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/storage"
)

// PersonService handles group membership.
type PersonService struct {
	store storage.Store
	hub   Notifier
}

// NewPersonService creates a PersonService over the given store and fan-out hub.
func NewPersonService(store storage.Store, hub Notifier) *PersonService {
	return &PersonService{store: store, hub: hub}
}

// Add puts a new person in the group. Names are unique per group.
func (s *PersonService) Add(ctx context.Context, code, name, excludeEndpoint string) (*models.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("person name is required: %w", ErrValidation)
	}

	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	person, err := s.store.AddPerson(ctx, code, name)
	if err != nil {
		slog.Error("AddPerson failed", "code", code, "error", err)
		return nil, err
	}

	slog.Info("Person added", "group_id", group.ID, "person_id", person.ID)
	notifyGroup(s.hub, group.ID, group.Code,
		"Person added",
		fmt.Sprintf("Group: %s", group.Name),
		fmt.Sprintf("%s joined the group.", person.Name),
		excludeEndpoint)
	return person, nil
}

// Rename changes a person's display name.
func (s *PersonService) Rename(ctx context.Context, code, personID, name, excludeEndpoint string) (*models.Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("person name is required: %w", ErrValidation)
	}

	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	person, err := s.store.RenamePerson(ctx, code, personID, name)
	if err != nil {
		slog.Error("RenamePerson failed", "code", code, "person_id", personID, "error", err)
		return nil, err
	}

	slog.Info("Person renamed", "group_id", group.ID, "person_id", person.ID)
	notifyGroup(s.hub, group.ID, group.Code,
		"Person updated",
		fmt.Sprintf("Group: %s", group.Name),
		fmt.Sprintf("A person's name is now %q.", person.Name),
		excludeEndpoint)
	return person, nil
}

// Delete removes a person. The store rejects the removal while the person
// still pays for any expense.
func (s *PersonService) Delete(ctx context.Context, code, personID, excludeEndpoint string) error {
	group, err := s.store.GetGroup(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.DeletePerson(ctx, code, personID); err != nil {
		slog.Error("DeletePerson failed", "code", code, "person_id", personID, "error", err)
		return err
	}

	slog.Info("Person deleted", "group_id", group.ID, "person_id", personID)
	notifyGroup(s.hub, group.ID, group.Code,
		"Person deleted",
		fmt.Sprintf("Group: %s", group.Name),
		"A person left the group.",
		excludeEndpoint)
	return nil
}
