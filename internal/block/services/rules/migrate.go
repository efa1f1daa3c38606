package rules

import (
	"context"
	"fmt"

	"github.com/haukened/sitewall/internal/block/domain"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
)

// MigrationResult reports what MigrateRules did. Rules is the post-migration
// list either way.
type MigrationResult struct {
	Migrated bool
	Rules    []domain.Rule
}

// MigrateRules upgrades legacy record shapes. Records missing an id force a
// full rebuild: every installed dynamic rule is dropped and the stored list
// is recompiled under sequential ids 1..N. Records missing only a category
// are patched in place without touching the ruleset. Safe to call on every
// start; reports Migrated=false when nothing is stale.
//
// The rebuild never partially persists: the engine swap is one atomic batch
// and the stored list is only rewritten after it succeeds.
func (m *Manager) MigrateRules(ctx context.Context) (MigrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Rules(ctx)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("loading rules: %w", err)
	}

	needsRebuild := false
	needsSave := false
	patched := make([]domain.Rule, len(stored))
	for i, r := range stored {
		if r.ID == 0 {
			needsRebuild = true
		}
		if r.Category == "" {
			r.Category = domain.CategoryUncategorized
			needsSave = true
		}
		patched[i] = r
	}

	switch {
	case needsRebuild:
		final, err := m.rebuildLocked(ctx, patched)
		if err != nil {
			return MigrationResult{}, err
		}
		m.logger.Info(map[string]any{"rules": len(final)}, "legacy rules migrated via full rebuild")
		return MigrationResult{Migrated: true, Rules: final}, nil

	case needsSave:
		if err := m.saveRules(ctx, patched); err != nil {
			return MigrationResult{}, err
		}
		m.logger.Info(map[string]any{"rules": len(patched)}, "rule categories backfilled")
		return MigrationResult{Migrated: true, Rules: patched}, nil

	default:
		return MigrationResult{Migrated: false, Rules: stored}, nil
	}
}

// rebuildLocked swaps the entire dynamic ruleset for a recompilation of the
// stored list with ids assigned in list order. Callers hold m.mu.
func (m *Manager) rebuildLocked(ctx context.Context, records []domain.Rule) ([]domain.Rule, error) {
	installed, err := m.engine.DynamicRules(ctx)
	if err != nil {
		return nil, &domain.MigrationError{Err: fmt.Errorf("listing dynamic rules: %w", err)}
	}
	removeIDs := make([]int, len(installed))
	for i, r := range installed {
		removeIDs[i] = r.ID
	}

	final := make([]domain.Rule, len(records))
	drafts := make([]dnr.Rule, len(records))
	for i, r := range records {
		r.ID = i + 1
		final[i] = r

		draft := dnr.Compile(r.BlockURL, r.RedirectURL, m.blockedPageURL)
		draft.ID = r.ID
		drafts[i] = draft
	}

	err = m.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{
		RemoveRuleIDs: removeIDs,
		AddRules:      drafts,
	})
	if err != nil {
		m.logger.Error(map[string]any{"error": err}, "migration rebuild failed, stored rules untouched")
		return nil, &domain.MigrationError{Err: err}
	}

	if err := m.saveRules(ctx, final); err != nil {
		return nil, &domain.MigrationError{Err: err}
	}
	return final, nil
}
