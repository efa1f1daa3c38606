package rulestore

import (
	"context"
	"sync"

	"github.com/haukened/sitewall/internal/block/domain"
)

// Memory is an in-memory Store used by tests. The error fields inject
// failures at the matching boundary.
type Memory struct {
	mu       sync.Mutex
	rules    []domain.Rule
	settings *domain.Settings

	RulesErr        error
	SaveRulesErr    error
	SettingsErr     error
	SaveSettingsErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Rules(_ context.Context) ([]domain.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RulesErr != nil {
		return nil, m.RulesErr
	}
	out := make([]domain.Rule, len(m.rules))
	copy(out, m.rules)
	return out, nil
}

func (m *Memory) SaveRules(_ context.Context, rules []domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveRulesErr != nil {
		return m.SaveRulesErr
	}
	m.rules = make([]domain.Rule, len(rules))
	copy(m.rules, rules)
	return nil
}

func (m *Memory) Settings(_ context.Context) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SettingsErr != nil {
		return domain.Settings{}, m.SettingsErr
	}
	if m.settings == nil {
		return domain.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) SaveSettings(_ context.Context, s domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveSettingsErr != nil {
		return m.SaveSettingsErr
	}
	m.settings = &s
	return nil
}
