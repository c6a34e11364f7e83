package types

// BuildType is one billable content-generation action.
type BuildType string

const (
	BuildTypeMVP       BuildType = "mvp"
	BuildTypeBranding  BuildType = "branding"
	BuildTypeMarketing BuildType = "marketing"
)

func (t BuildType) Valid() bool {
	switch t {
	case BuildTypeMVP, BuildTypeBranding, BuildTypeMarketing:
		return true
	}
	return false
}

// PlanIDTrial is the reserved identifier of the time-boxed trial plan.
const PlanIDTrial = "trial"

// UnlimitedRemaining is the sentinel reported for plans without a build cap.
const UnlimitedRemaining int64 = -1

type PlanFeatures struct {
	// BuildsPerMonth is ignored when UnlimitedBuilds is true.
	BuildsPerMonth    int64 `json:"builds_per_month" mapstructure:"builds_per_month"`
	UnlimitedBuilds   bool  `json:"unlimited_builds" mapstructure:"unlimited_builds"`
	BonusPrizeUnlocks int64 `json:"bonus_prize_unlocks" mapstructure:"bonus_prize_unlocks"`
}

// PlanDefinition is a plan tier loaded from static configuration.
// Prices are in cents.
type PlanDefinition struct {
	ID    string `json:"id" mapstructure:"id"`
	Name  string `json:"name" mapstructure:"name"`
	Price int64  `json:"price" mapstructure:"price"`
	// AutoUpgradePrice is the amount charged when a trial converts; nil for
	// plans that never auto-convert.
	AutoUpgradePrice *int64 `json:"auto_upgrade_price" mapstructure:"auto_upgrade_price"`
	// AutoUpgradePlan is the plan a trial converts into at trial end.
	AutoUpgradePlan string       `json:"auto_upgrade_plan" mapstructure:"auto_upgrade_plan"`
	Features        PlanFeatures `json:"features" mapstructure:"features"`
}

func (p *PlanDefinition) Unlimited() bool {
	return p.Features.UnlimitedBuilds
}

func (p *PlanDefinition) IsTrial() bool {
	return p.ID == PlanIDTrial
}
