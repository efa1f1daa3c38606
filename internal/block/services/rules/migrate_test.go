package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/sitewall/internal/block/common/log"
	"github.com/haukened/sitewall/internal/block/domain"
	"github.com/haukened/sitewall/internal/block/gateways/dnr"
	"github.com/haukened/sitewall/internal/block/repos/rulestore"
)

func TestMigrateRules_NothingStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AddRule(ctx, "x.com", "", nil, domain.CategorySocial)
	require.NoError(t, err)

	res, err := f.manager.MigrateRules(ctx)
	require.NoError(t, err)
	assert.False(t, res.Migrated)
	assert.Len(t, res.Rules, 1)
}

func TestMigrateRules_LegacyRecordTriggersFullRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// legacy record: no id, no category; plus a stray installed rule that
	// must be swept away by the rebuild
	require.NoError(t, f.store.SaveRules(ctx, []domain.Rule{
		{BlockURL: "facebook.com", RedirectURL: ""},
	}))
	stray := dnr.Compile("stale.com", "", blockedPage)
	stray.ID = 42
	require.NoError(t, f.engine.UpdateDynamicRules(ctx, dnr.UpdateOptions{AddRules: []dnr.Rule{stray}}))

	res, err := f.manager.MigrateRules(ctx)
	require.NoError(t, err)
	assert.True(t, res.Migrated)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, 1, res.Rules[0].ID)
	assert.Equal(t, domain.CategoryUncategorized, res.Rules[0].Category)

	installed, err := f.engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, 1, installed[0].ID)
	assert.Equal(t, "||facebook.com", installed[0].Condition.URLFilter)

	stored, err := f.manager.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Rules, stored)
}

func TestMigrateRules_RebuildAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveRules(ctx, []domain.Rule{
		{BlockURL: "a.com", Category: domain.CategorySocial},          // legacy: no id
		{ID: 9, BlockURL: "b.com", Category: domain.CategoryNews},     // fine on its own
		{BlockURL: "c.com", RedirectURL: "https://example.org"},       // legacy: no id, no category
	}))

	res, err := f.manager.MigrateRules(ctx)
	require.NoError(t, err)
	require.True(t, res.Migrated)
	require.Len(t, res.Rules, 3)
	for i, r := range res.Rules {
		assert.Equal(t, i+1, r.ID, "ids are reassigned in list order")
		assert.NotEmpty(t, r.Category)
	}
	assert.Equal(t, domain.CategoryUncategorized, res.Rules[2].Category)
}

func TestMigrateRules_CategoryOnlyPatchSkipsEngine(t *testing.T) {
	ctx := context.Background()
	engine := &MockEngine{}
	store := rulestore.NewMemory()
	require.NoError(t, store.SaveRules(ctx, []domain.Rule{
		{ID: 1, BlockURL: "x.com"},
		{ID: 2, BlockURL: "y.com", Category: domain.CategoryWork},
	}))

	manager := NewManager(ManagerOptions{
		Store: store, Engine: engine, Logger: log.NewNoopLogger(), BlockedPageURL: blockedPage,
	})

	res, err := manager.MigrateRules(ctx)
	require.NoError(t, err)
	assert.True(t, res.Migrated)
	assert.Equal(t, domain.CategoryUncategorized, res.Rules[0].Category)
	assert.Equal(t, domain.CategoryWork, res.Rules[1].Category)

	// no engine expectations were set: any ruleset call would have failed
	engine.AssertExpectations(t)
}

func TestMigrateRules_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveRules(ctx, []domain.Rule{
		{BlockURL: "facebook.com"},
	}))

	first, err := f.manager.MigrateRules(ctx)
	require.NoError(t, err)
	assert.True(t, first.Migrated)

	second, err := f.manager.MigrateRules(ctx)
	require.NoError(t, err)
	assert.False(t, second.Migrated, "second run with no intervening edits must be a no-op")
	assert.Equal(t, first.Rules, second.Rules)
}

func TestMigrateRules_RebuildFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	legacy := []domain.Rule{{BlockURL: "facebook.com"}}

	engine := &MockEngine{}
	engine.On("DynamicRules", mock.Anything).Return([]dnr.Rule{}, nil)
	engine.On("UpdateDynamicRules", mock.Anything, mock.Anything).Return(errors.New("engine down"))

	store := rulestore.NewMemory()
	require.NoError(t, store.SaveRules(ctx, legacy))

	manager := NewManager(ManagerOptions{
		Store: store, Engine: engine, Logger: log.NewNoopLogger(), BlockedPageURL: blockedPage,
	})

	_, err := manager.MigrateRules(ctx)

	var merr *domain.MigrationError
	require.ErrorAs(t, err, &merr)

	stored, err := store.Rules(ctx)
	require.NoError(t, err)
	assert.Equal(t, legacy, stored, "failed rebuild must not partially persist")
}
