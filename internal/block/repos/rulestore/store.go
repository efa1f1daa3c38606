// Package rulestore persists the synced user state: the rule record list
// and the settings record. It stands in for the browser's synced key-value
// storage; the rule list it holds is the single source of truth the
// filtering ruleset is derived from.
package rulestore

import (
	"context"

	"github.com/haukened/sitewall/internal/block/domain"
)

// Store is the synced key-value persistence boundary.
//
// Legacy rule shapes survive the round-trip: a record persisted without an
// id or category decodes with the zero value, which is how the migration
// routine detects stale schemas.
type Store interface {
	// Rules returns the persisted rule list; an absent key yields an empty
	// list, not an error.
	Rules(ctx context.Context) ([]domain.Rule, error)

	// SaveRules replaces the persisted rule list.
	SaveRules(ctx context.Context, rules []domain.Rule) error

	// Settings returns the persisted settings record, defaulted when absent.
	Settings(ctx context.Context) (domain.Settings, error)

	// SaveSettings replaces the persisted settings record.
	SaveSettings(ctx context.Context, s domain.Settings) error
}
