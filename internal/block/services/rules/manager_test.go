package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/sitewall/internal/block/common/clock"
	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/domain"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
)

const blockedPage = "app://sitewall/blocked"

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) RulesChanged() { n.calls++ }

// MockEngine injects engine failures the real MemEngine cannot produce.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) DynamicRules(ctx context.Context) ([]dnr.Rule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]dnr.Rule)
	return rules, args.Error(1)
}

func (m *MockEngine) UpdateDynamicRules(ctx context.Context, opts dnr.UpdateOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

type fixture struct {
	manager  *Manager
	store    *rulestore.Memory
	engine   *dnr.MemEngine
	notifier *countingNotifier
	clk      *clock.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := dnr.NewMemEngine(blockedPage, 64, log.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	store := rulestore.NewMemory()
	notifier := &countingNotifier{}
	clk := &clock.MockClock{CurrentTime: time.Date(2025, 8, 4, 12, 0, 0, 0, time.Local)} // Monday noon

	manager := NewManager(ManagerOptions{
		Store:          store,
		Engine:         engine,
		Notifier:       notifier,
		Clock:          clk,
		Logger:         log.NewNoopLogger(),
		BlockedPageURL: blockedPage,
	})
	return &fixture{manager: manager, store: store, engine: engine, notifier: notifier, clk: clk}
}

func TestAddRule_FirstRuleGetsIDOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.manager.AddRule(ctx, "facebook.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	assert.Equal(t, 1, record.ID)
	assert.Equal(t, "facebook.com", record.BlockURL)
	assert.Equal(t, "", record.RedirectURL)

	installed, err := f.engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, 1, installed[0].ID)
	assert.Equal(t, "||facebook.com", installed[0].Condition.URLFilter)
	assert.Equal(t, dnr.ActionTypeRedirect, installed[0].Action.Type)
	assert.Equal(t, blockedPage, installed[0].Action.Redirect.URL)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, record, stored[0])
	assert.Equal(t, 1, f.notifier.calls)
}

func TestAddRule_RejectsUppercase(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.AddRule(context.Background(), "FACEBOOK.com", "", nil, domain.CategorySocial)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(domain.CodeBlockURLLowercase))
	assert.Equal(t, 0, f.notifier.calls)
}

func TestAddRule_RejectsDuplicatePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "x.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)

	_, err = f.manager.AddRule(ctx, "x.com", "", nil, domain.CategoryNews)
	assert.ErrorIs(t, err, domain.ErrRuleExists)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAddRule_SamePairDifferentRedirectAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "x.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.AddRule(ctx, "x.com", "https://y.com", nil, domain.CategorySocial)
	require.NoError(t, err)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestAddRule_TrimsInput(t *testing.T) {
	f := newFixture(t)

	record, err := f.manager.AddRule(context.Background(), "  x.com  ", "  https://y.com ", nil, domain.CategoryWork)
	require.NoError(t, err)
	assert.Equal(t, "x.com", record.BlockURL)
	assert.Equal(t, "https://y.com", record.RedirectURL)
}

func TestAddRule_NextIDComesFromEngineNotStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a rule installed in the engine but absent from the stored list, the
	// transient state a crashed migration leaves behind
	orphan := dnr.Compile("orphan.com", "", blockedPage)
	orphan.ID = 7
	require.NoError(t, f.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{orphan}}))

	record, err := f.manager.AddRule(ctx, "x.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	assert.Equal(t, 8, record.ID, "id must be max(engine)+1, not max(store)+1")
}

func TestAddRule_EngineFailureSurfacesAndNothingPersists(t *testing.T) {
	engine := &MockEngine{}
	engine.On("DynamicRules", mock.Anything).Return([]dnr.Rule{}, nil)
	engine.On("UpdateDynamicRules", mock.Anything, mock.Anything).Return(errors.New("quota exceeded"))

	store := rulestore.NewMemory()
	manager := NewManager(ManagerOptions{
		Store: store, Engine: engine, Logger: log.NewNoopLogger(), BlockedPageURL: blockedPage,
	})

	_, err := manager.AddRule(context.Background(), "x.com", "", nil, domain.CategorySocial)

	var eerr *domain.EngineError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "install", eerr.Op)

	stored, err := store.Rules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestUpdateRule_AssignsFreshID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.AddRule(ctx, "x.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	require.Equal(t, 1, first.ID)

	updated, err := f.manager.UpdateRule(ctx, 0, "x.com", "https://y.com", nil, domain.CategorySocial)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, updated.ID, "update must never retain the previous id")
	assert.Equal(t, 2, updated.ID)
	assert.Equal(t, "https://y.com", updated.RedirectURL)

	installed, err := f.engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, 2, installed[0].ID)
	assert.Equal(t, "https://y.com", installed[0].Action.Redirect.URL)
}

func TestUpdateRule_IndexOutOfRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.UpdateRule(context.Background(), 0, "x.com", "", nil, domain.CategorySocial)
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestUpdateRule_RejectsDuplicateOfOtherRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "a.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.AddRule(ctx, "b.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)

	// renaming b.com to a.com collides with record 0
	_, err = f.manager.UpdateRule(ctx, 1, "a.com", "", nil, domain.CategorySocial)
	assert.ErrorIs(t, err, domain.ErrRuleExists)

	// updating a record to its own current pair is fine
	_, err = f.manager.UpdateRule(ctx, 0, "a.com", "", nil, domain.CategoryNews)
	assert.NoError(t, err)
}

func TestDeleteRule_ByIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "a.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	added, err := f.manager.AddRule(ctx, "b.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)

	victim, err := f.manager.DeleteRule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, added, victim)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "a.com", stored[0].BlockURL)

	installed, err := f.engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, stored[0].ID, installed[0].ID)
}

func TestDeleteRule_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.DeleteRule(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestDeleteRuleByData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "a.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.AddRule(ctx, "b.com", "https://y.com", nil, domain.CategorySocial)
	require.NoError(t, err)

	victim, err := f.manager.DeleteRuleByData(ctx, "b.com", "https://y.com")
	require.NoError(t, err)
	assert.Equal(t, "b.com", victim.BlockURL)

	_, err = f.manager.DeleteRuleByData(ctx, "b.com", "https://y.com")
	assert.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestNoDuplicatePairsAfterMixedEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "a.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.AddRule(ctx, "b.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.UpdateRule(ctx, 0, "c.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)
	_, err = f.manager.AddRule(ctx, "a.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)

	seen := map[[2]string]bool{}
	for _, r := range stored {
		key := [2]string{r.BlockURL, r.RedirectURL}
		assert.False(t, seen[key], "duplicate pair %v", key)
		seen[key] = true
	}
}

func TestIsStrictMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.manager.IsStrictMode(ctx))

	require.NoError(t, f.store.SaveSettings(ctx, domain.Settings{Mode: domain.ModeStrict}))
	assert.True(t, f.manager.IsStrictMode(ctx))

	// unreadable settings fall back to not-strict
	f.store.SettingsErr = errors.New("storage offline")
	assert.False(t, f.manager.IsStrictMode(ctx))
}

func TestIsRuleActiveNow(t *testing.T) {
	f := newFixture(t) // Monday 12:00 local

	unscheduled := domain.Rule{BlockURL: "a.com"}
	assert.True(t, f.manager.IsRuleActiveNow(unscheduled))

	workHours := domain.Rule{
		BlockURL: "b.com",
		Schedule: &domain.Schedule{Days: []int{1}, StartTime: "09:00", EndTime: "17:00"},
	}
	assert.True(t, f.manager.IsRuleActiveNow(workHours))

	f.clk.Advance(5 * time.Hour) // 17:00, end-exclusive
	assert.False(t, f.manager.IsRuleActiveNow(workHours))

	weekend := domain.Rule{
		BlockURL: "c.com",
		Schedule: &domain.Schedule{Days: []int{0, 6}, StartTime: "00:00", EndTime: "23:59"},
	}
	assert.False(t, f.manager.IsRuleActiveNow(weekend))
}
