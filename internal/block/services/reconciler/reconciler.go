// Package reconciler keeps the dynamic filtering ruleset converged on the
// schedule-active subset of the stored rule list. It is a pure projection:
// the stored list is never written here.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/sitewall/internal/block/common/clock"
	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
)

// Service periodically diffs the desired active ruleset against what the
// engine has installed and issues the minimal batched add/remove calls.
type Service struct {
	store          rulestore.Store
	engine         dnr.Engine
	clk            clock.Clock
	logger         log.Logger
	blockedPageURL string
	interval       time.Duration

	// tickMu rejects overlapping passes: a tick that fires while the
	// previous one is still in flight is skipped, not queued.
	tickMu sync.Mutex
	kick   chan struct{}
}

// Options carries the Service's collaborators.
type Options struct {
	Store          rulestore.Store
	Engine         dnr.Engine
	Clock          clock.Clock
	Logger         log.Logger
	BlockedPageURL string
	Interval       time.Duration
}

func New(opts Options) *Service {
	s := &Service{
		store:          opts.Store,
		engine:         opts.Engine,
		clk:            opts.Clock,
		logger:         opts.Logger,
		blockedPageURL: opts.BlockedPageURL,
		interval:       opts.Interval,
		kick:           make(chan struct{}, 1),
	}
	if s.clk == nil {
		s.clk = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	return s
}

// Kick requests an immediate reconciliation pass from the Run loop without
// blocking the caller. Used when rules change out from under the scheduler.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RulesChanged implements the rule store's broadcast interface.
func (s *Service) RulesChanged() {
	s.Kick()
}

// Run reconciles once immediately, then on every tick or Kick until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ReconcileNow(ctx); err != nil {
		s.logger.Error(map[string]any{"error": err}, "initial reconciliation failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reconcileGuarded(ctx)
		case <-s.kick:
			s.reconcileGuarded(ctx)
		}
	}
}

// reconcileGuarded runs one pass unless a previous one is still in flight.
func (s *Service) reconcileGuarded(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.logger.Debug(nil, "reconciliation already running, tick skipped")
		return
	}
	defer s.tickMu.Unlock()

	if err := s.ReconcileNow(ctx); err != nil {
		s.logger.Error(map[string]any{"error": err}, "reconciliation failed")
	}
}

// ReconcileNow makes the installed ruleset equal the schedule-active subset
// of the stored list: one batched removal of everything installed that
// should not be, then one batched install of everything active that is
// missing. The two id sets are disjoint by construction, so no window with
// a wrongly-empty ruleset opens between the calls. Records that cannot be
// projected are skipped so one bad record never blocks the rest.
func (s *Service) ReconcileNow(ctx context.Context) error {
	stored, err := s.store.Rules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	installed, err := s.engine.DynamicRules(ctx)
	if err != nil {
		return fmt.Errorf("listing dynamic rules: %w", err)
	}

	installedIDs := make(map[int]bool, len(installed))
	for _, r := range installed {
		installedIDs[r.ID] = true
	}

	now := s.clk.Now()
	activeIDs := make(map[int]bool, len(stored))
	var toAdd []dnr.Rule
	for _, r := range stored {
		if r.ID == 0 {
			// legacy record awaiting migration, nothing to project yet
			s.logger.Warn(map[string]any{"block_url": r.BlockURL}, "skipping rule without id")
			continue
		}
		if r.Schedule != nil && !r.Schedule.ActiveAt(now) {
			continue
		}
		activeIDs[r.ID] = true
		if !installedIDs[r.ID] {
			draft := dnr.Compile(r.BlockURL, r.RedirectURL, s.blockedPageURL)
			draft.ID = r.ID
			toAdd = append(toAdd, draft)
		}
	}

	// remove whatever is installed but not desired: schedule-inactive rules
	// and orphans left behind by interrupted edits
	var toRemove []int
	for id := range installedIDs {
		if !activeIDs[id] {
			toRemove = append(toRemove, id)
		}
	}
	sort.Ints(toRemove)
	sort.Slice(toAdd, func(i, j int) bool { return toAdd[i].ID < toAdd[j].ID })

	var errs error
	if len(toRemove) > 0 {
		if err := s.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{RemoveRuleIDs: toRemove}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("removing %d rules: %w", len(toRemove), err))
		}
	}
	if len(toAdd) > 0 {
		if err := s.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{AddRules: toAdd}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("installing %d rules: %w", len(toAdd), err))
		}
	}

	if len(toRemove) > 0 || len(toAdd) > 0 {
		s.logger.Info(map[string]any{
			"removed": len(toRemove),
			"added":   len(toAdd),
			"active":  len(activeIDs),
		}, "ruleset reconciled")
	}
	return errs
}
