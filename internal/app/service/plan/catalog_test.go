package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandforge/metering/pkg/types"
)

func validPlans() map[string]*types.PlanDefinition {
	return map[string]*types.PlanDefinition{
		"trial": {
			Name:            "Trial",
			AutoUpgradePlan: "pro",
			Features:        types.PlanFeatures{BuildsPerMonth: 2, BonusPrizeUnlocks: 1},
		},
		"basic": {
			Name:     "Basic",
			Price:    1900,
			Features: types.PlanFeatures{BuildsPerMonth: 4, BonusPrizeUnlocks: 1},
		},
		"pro": {
			Name:     "Pro",
			Price:    4900,
			Features: types.PlanFeatures{UnlimitedBuilds: true, BonusPrizeUnlocks: 3},
		},
	}
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]*types.PlanDefinition)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(map[string]*types.PlanDefinition) {},
		},
		{
			name:    "empty catalog",
			mutate:  func(p map[string]*types.PlanDefinition) { clear(p) },
			wantErr: "no plans configured",
		},
		{
			name:    "nil definition",
			mutate:  func(p map[string]*types.PlanDefinition) { p["basic"] = nil },
			wantErr: "has no definition",
		},
		{
			name:    "zero builds without unlimited",
			mutate:  func(p map[string]*types.PlanDefinition) { p["basic"].Features.BuildsPerMonth = 0 },
			wantErr: "builds_per_month must be positive",
		},
		{
			name:    "negative bonus unlocks",
			mutate:  func(p map[string]*types.PlanDefinition) { p["basic"].Features.BonusPrizeUnlocks = -1 },
			wantErr: "bonus_prize_unlocks must not be negative",
		},
		{
			name:    "dangling auto upgrade target",
			mutate:  func(p map[string]*types.PlanDefinition) { p["trial"].AutoUpgradePlan = "platinum" },
			wantErr: "not in catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := validPlans()
			tt.mutate(defs)
			_, err := newCatalog(defs)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCatalog_Get(t *testing.T) {
	c, err := newCatalog(validPlans())
	require.NoError(t, err)

	p, err := c.Get("basic")
	require.NoError(t, err)
	assert.Equal(t, "basic", p.ID)
	assert.Equal(t, int64(4), p.Features.BuildsPerMonth)

	// returned definition is a copy
	p.Features.BuildsPerMonth = 100
	again, err := c.Get("basic")
	require.NoError(t, err)
	assert.Equal(t, int64(4), again.Features.BuildsPerMonth)

	_, err = c.Get("platinum")
	require.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCatalog_HasAndIDs(t *testing.T) {
	c, err := newCatalog(validPlans())
	require.NoError(t, err)

	assert.True(t, c.Has("pro"))
	assert.False(t, c.Has("platinum"))
	assert.Equal(t, []string{"basic", "pro", "trial"}, c.IDs())
}

func TestCatalog_TrialHelpers(t *testing.T) {
	c, err := newCatalog(validPlans())
	require.NoError(t, err)

	trial, err := c.Get(types.PlanIDTrial)
	require.NoError(t, err)
	assert.True(t, trial.IsTrial())
	assert.False(t, trial.Unlimited())

	pro, err := c.Get("pro")
	require.NoError(t, err)
	assert.False(t, pro.IsTrial())
	assert.True(t, pro.Unlimited())
}
