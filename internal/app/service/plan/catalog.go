package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brandforge/metering/pkg/config"
	"github.com/brandforge/metering/pkg/types"
)

// ErrUnknownPlan means a plan id is absent from the catalog. This is a
// configuration or data-integrity bug, not a user error; callers must not
// swallow it.
var ErrUnknownPlan = errors.New("unknown plan")

// Catalog is the immutable plan lookup, built once from configuration and
// injected into consumers.
type Catalog struct {
	plans map[string]*types.PlanDefinition
}

func NewCatalog(cfg *config.Config) (*Catalog, error) {
	return newCatalog(cfg.Plans)
}

func newCatalog(defs map[string]*types.PlanDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no plans configured")
	}
	plans := make(map[string]*types.PlanDefinition, len(defs))
	for id, p := range defs {
		if p == nil {
			return nil, fmt.Errorf("plan %q has no definition", id)
		}
		cp := *p
		cp.ID = id
		if !cp.Unlimited() && cp.Features.BuildsPerMonth <= 0 {
			return nil, fmt.Errorf("plan %q: builds_per_month must be positive unless unlimited_builds is set", id)
		}
		if cp.Features.BonusPrizeUnlocks < 0 {
			return nil, fmt.Errorf("plan %q: bonus_prize_unlocks must not be negative", id)
		}
		plans[id] = &cp
	}
	// Auto-upgrade targets must resolve inside the catalog.
	for id, p := range plans {
		if p.AutoUpgradePlan == "" {
			continue
		}
		if _, ok := plans[p.AutoUpgradePlan]; !ok {
			return nil, fmt.Errorf("plan %q: auto_upgrade_plan %q not in catalog", id, p.AutoUpgradePlan)
		}
	}
	return &Catalog{plans: plans}, nil
}

// Get returns a copy of the plan definition, or ErrUnknownPlan.
func (c *Catalog) Get(planID string) (*types.PlanDefinition, error) {
	p, ok := c.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	cp := *p
	return &cp, nil
}

func (c *Catalog) Has(planID string) bool {
	_, ok := c.plans[planID]
	return ok
}

func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
