// Package models defines the core domain models for Tally.
//
// # Persisted Models
//
//   - Group: a shared expense-tracking unit, addressed by a stable code
//   - Person: a named participant within exactly one group
//   - Expense: a single payment made by one person on behalf of the group
//   - Subscription: a durable push-delivery endpoint registered for a group
//
// Derived values (balances, transfers) live in the settle package and are
// never persisted.
//
// # Design Principles
//
// 1. **No user accounts**: participants are identified by name strings,
// unique within their group
// 2. **Avoid circular references**: use ID strings instead of pointers for
// relationships
// 3. **Server owns identity**: IDs and revision counters are assigned by the
// storage layer, never by clients
package models
