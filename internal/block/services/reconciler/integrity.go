package reconciler

import (
	"context"
	"fmt"
	"time"
)

// VerifyIntegrity compares the ids the engine should have installed (the
// schedule-active stored ids) against what it actually has. On any drift it
// forces a full reconciliation. Returns whether the two sets were already
// equal.
//
// Drift here means something external reset the engine or a previous pass
// died partway; either way ReconcileNow converges it.
func (s *Service) VerifyIntegrity(ctx context.Context) (bool, error) {
	stored, err := s.store.Rules(ctx)
	if err != nil {
		return false, fmt.Errorf("loading rules: %w", err)
	}
	installed, err := s.engine.DynamicRules(ctx)
	if err != nil {
		return false, fmt.Errorf("listing dynamic rules: %w", err)
	}

	now := s.clk.Now()
	desired := make(map[int]bool)
	for _, r := range stored {
		if r.ID == 0 {
			continue
		}
		if r.Schedule == nil || r.Schedule.ActiveAt(now) {
			desired[r.ID] = true
		}
	}

	inSync := len(installed) == len(desired)
	if inSync {
		for _, r := range installed {
			if !desired[r.ID] {
				inSync = false
				break
			}
		}
	}
	if inSync {
		return true, nil
	}

	s.logger.Warn(map[string]any{
		"desired":   len(desired),
		"installed": len(installed),
	}, "ruleset drift detected, forcing reconciliation")

	if err := s.ReconcileNow(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// IntegritySweep waits out the delay, then runs one integrity check. The
// delay keeps it from masking a race with the initial reconciliation pass
// at startup. The sweep is best effort: verification failures are logged
// and dropped so a transient store or engine error never stops the daemon.
// Returns nil when the context ends first.
func (s *Service) IntegritySweep(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(delay):
	}

	inSync, err := s.VerifyIntegrity(ctx)
	if err != nil {
		s.logger.Error(map[string]any{"error": err}, "integrity check failed")
		return nil
	}
	s.logger.Debug(map[string]any{"in_sync": inSync}, "integrity check complete")
	return nil
}
