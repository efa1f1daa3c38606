// Package rules owns the authoritative rule record list. The Manager is
// the only writer of the persisted list and the only component that pairs
// list edits with dynamic ruleset changes; everything else reads.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haukened/sitewall/internal/block/common/clock"
	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/domain"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
)

// Manager coordinates the persisted rule list with the dynamic filtering
// ruleset. All mutations serialize on one mutex, so concurrent edits from
// multiple surfaces cannot lose updates.
type Manager struct {
	mu             sync.Mutex
	store          rulestore.Store
	engine         dnr.Engine
	notifier       Notifier
	clk            clock.Clock
	logger         log.Logger
	blockedPageURL string
}

// ManagerOptions carries the Manager's collaborators.
type ManagerOptions struct {
	Store          rulestore.Store
	Engine         dnr.Engine
	Notifier       Notifier
	Clock          clock.Clock
	Logger         log.Logger
	BlockedPageURL string
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		store:          opts.Store,
		engine:         opts.Engine,
		notifier:       opts.Notifier,
		clk:            opts.Clock,
		logger:         opts.Logger,
		blockedPageURL: opts.BlockedPageURL,
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.clk == nil {
		m.clk = clock.RealClock{}
	}
	if m.logger == nil {
		m.logger = log.GetLogger()
	}
	return m
}

// GetRules returns the persisted rule list.
func (m *Manager) GetRules(ctx context.Context) ([]domain.Rule, error) {
	return m.store.Rules(ctx)
}

// AddRule validates, installs and persists a new rule, returning the stored
// record with its assigned id.
func (m *Manager) AddRule(ctx context.Context, blockURL, redirectURL string, schedule *domain.Schedule, category domain.Category) (domain.Rule, error) {
	if res := domain.ValidateRule(blockURL, redirectURL, schedule, category); !res.IsValid {
		return domain.Rule{}, &domain.ValidationError{Codes: res.Errors}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Rules(ctx)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("loading rules: %w", err)
	}
	if ruleExists(stored, blockURL, redirectURL, -1) {
		return domain.Rule{}, domain.ErrRuleExists
	}

	id, err := m.nextID(ctx)
	if err != nil {
		return domain.Rule{}, err
	}

	draft := dnr.Compile(blockURL, redirectURL, m.blockedPageURL)
	draft.ID = id
	if err := m.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{draft}}); err != nil {
		m.logger.Error(map[string]any{"error": err, "block_url": blockURL}, "dynamic rule install failed")
		return domain.Rule{}, &domain.EngineError{Op: "install", Err: err}
	}

	record := domain.Rule{
		ID:          id,
		BlockURL:    strings.TrimSpace(blockURL),
		RedirectURL: strings.TrimSpace(redirectURL),
		Schedule:    schedule,
		Category:    category,
	}
	stored = append(stored, record)
	if err := m.saveRules(ctx, stored); err != nil {
		return domain.Rule{}, err
	}

	m.logger.Info(map[string]any{"id": id, "block_url": record.BlockURL}, "rule added")
	return record, nil
}

// UpdateRule replaces the record at index with new data under a freshly
// assigned id. The id changes on every edit; reusing the old id would race
// with removals still in flight elsewhere.
func (m *Manager) UpdateRule(ctx context.Context, index int, blockURL, redirectURL string, schedule *domain.Schedule, category domain.Category) (domain.Rule, error) {
	if res := domain.ValidateRule(blockURL, redirectURL, schedule, category); !res.IsValid {
		return domain.Rule{}, &domain.ValidationError{Codes: res.Errors}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Rules(ctx)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("loading rules: %w", err)
	}
	if index < 0 || index >= len(stored) {
		return domain.Rule{}, domain.ErrRuleNotFound
	}
	old := stored[index]
	if ruleExists(stored, blockURL, redirectURL, index) {
		return domain.Rule{}, domain.ErrRuleExists
	}

	// Fresh id is computed while the old rule is still installed, so it can
	// never collide with, or equal, the id being retired.
	id, err := m.nextID(ctx)
	if err != nil {
		return domain.Rule{}, err
	}

	draft := dnr.Compile(blockURL, redirectURL, m.blockedPageURL)
	draft.ID = id
	err = m.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{
		RemoveRuleIDs: []int{old.ID},
		AddRules:      []dnr.Rule{draft},
	})
	if err != nil {
		m.logger.Error(map[string]any{"error": err, "id": old.ID}, "dynamic rule replace failed")
		return domain.Rule{}, &domain.EngineError{Op: "replace", Err: err}
	}

	stored[index] = domain.Rule{
		ID:          id,
		BlockURL:    strings.TrimSpace(blockURL),
		RedirectURL: strings.TrimSpace(redirectURL),
		Schedule:    schedule,
		Category:    category,
	}
	if err := m.saveRules(ctx, stored); err != nil {
		return domain.Rule{}, err
	}

	m.logger.Info(map[string]any{"old_id": old.ID, "new_id": id}, "rule updated")
	return stored[index], nil
}

// DeleteRule uninstalls and removes the record at index.
func (m *Manager) DeleteRule(ctx context.Context, index int) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, index)
}

// DeleteRuleByData removes the record with the given natural key.
func (m *Manager) DeleteRuleByData(ctx context.Context, blockURL, redirectURL string) (domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Rules(ctx)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("loading rules: %w", err)
	}
	for i, r := range stored {
		if r.Matches(blockURL, redirectURL) {
			return m.deleteLocked(ctx, i)
		}
	}
	return domain.Rule{}, domain.ErrRuleNotFound
}

func (m *Manager) deleteLocked(ctx context.Context, index int) (domain.Rule, error) {
	stored, err := m.store.Rules(ctx)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("loading rules: %w", err)
	}
	if index < 0 || index >= len(stored) {
		return domain.Rule{}, domain.ErrRuleNotFound
	}
	victim := stored[index]

	if err := m.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{RemoveRuleIDs: []int{victim.ID}}); err != nil {
		m.logger.Error(map[string]any{"error": err, "id": victim.ID}, "dynamic rule remove failed")
		return domain.Rule{}, &domain.EngineError{Op: "remove", Err: err}
	}

	stored = append(stored[:index], stored[index+1:]...)
	if err := m.saveRules(ctx, stored); err != nil {
		return domain.Rule{}, err
	}

	m.logger.Info(map[string]any{"id": victim.ID, "block_url": victim.BlockURL}, "rule deleted")
	return victim, nil
}

// IsStrictMode reports whether deletions require the confirmation workflow.
// Unreadable settings fall back to not-strict.
func (m *Manager) IsStrictMode(ctx context.Context) bool {
	settings, err := m.store.Settings(ctx)
	if err != nil {
		m.logger.Warn(map[string]any{"error": err}, "settings unreadable, assuming normal mode")
		return false
	}
	return settings.IsStrict()
}

// IsRuleActiveNow reports whether the rule should currently be enforced:
// always for unscheduled rules, otherwise per the schedule window.
func (m *Manager) IsRuleActiveNow(rule domain.Rule) bool {
	if rule.Schedule == nil {
		return true
	}
	return rule.Schedule.ActiveAt(m.clk.Now())
}

// nextID derives the next rule id from the live dynamic ruleset, not the
// stored list. The two can transiently diverge (mid-migration, partial
// failures); scanning the engine is what guarantees no id collision with a
// rule that is installed but not yet persisted.
func (m *Manager) nextID(ctx context.Context) (int, error) {
	installed, err := m.engine.DynamicRules(ctx)
	if err != nil {
		m.logger.Error(map[string]any{"error": err}, "dynamic ruleset read failed")
		return 0, &domain.EngineError{Op: "list", Err: err}
	}
	max := 0
	for _, r := range installed {
		if r.ID > max {
			max = r.ID
		}
	}
	return max + 1, nil
}

// saveRules persists the list and broadcasts the change.
func (m *Manager) saveRules(ctx context.Context, rules []domain.Rule) error {
	if err := m.store.SaveRules(ctx, rules); err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	m.notifier.RulesChanged()
	return nil
}

// ruleExists reports whether another record (excluding excludeIndex, pass -1
// to exclude nothing) already carries the (blockURL, redirectURL) pair.
func ruleExists(rules []domain.Rule, blockURL, redirectURL string, excludeIndex int) bool {
	for i, r := range rules {
		if i == excludeIndex {
			continue
		}
		if r.Matches(blockURL, redirectURL) {
			return true
		}
	}
	return false
}
