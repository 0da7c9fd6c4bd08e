package control

import (
	"log"
	"strings"
)

// #region tier-config

// TierConfig holds the FAST upgrade policy.
type TierConfig struct {
	SwitchThreshold           float64  `yaml:"switch_threshold" validate:"gte=0,lte=1"`
	MinIterationsBeforeSwitch int      `yaml:"min_iterations_before_switch" validate:"gte=1"`
	StylizedKeywords          []string `yaml:"stylized_keywords"`
}

// DefaultTierConfig returns the standard switch policy.
func DefaultTierConfig() TierConfig {
	return TierConfig{
		SwitchThreshold:           0.78,
		MinIterationsBeforeSwitch: 5,
		StylizedKeywords: []string{
			"anime", "manga", "cartoon", "illustration",
			"cute", "chibi", "fantasy art", "game character",
		},
	}
}

// #endregion tier-config

// #region selector

// TierSelector picks the tier for each iteration. Once a non-FAST tier has
// been issued the selector never returns FAST again for the run.
type TierSelector struct {
	config      TierConfig
	theme       string
	recommended Tier
	lock        Tier
	upgraded    bool
}

// NewTierSelector creates a selector for theme with a FAST recommendation.
func NewTierSelector(config TierConfig, theme string) *TierSelector {
	return &TierSelector{config: config, theme: theme, recommended: TierFast}
}

// Recommend sets the tier suggested by theme analysis.
func (s *TierSelector) Recommend(t Tier) {
	if t != "" {
		s.recommended = t
	}
}

// Lock pins the tier chosen by an image-based style analysis. A lock
// outranks any recommendation.
func (s *TierSelector) Lock(t Tier) {
	s.lock = t
}

// Reconsider replaces the recommendation mid-run. It only takes effect
// while the upgrade gate is still closed and returns whether it did.
func (s *TierSelector) Reconsider(t Tier) bool {
	if s.upgraded || s.lock != "" || t == "" || t == s.recommended {
		return false
	}
	log.Printf("[ORCH] tier reconsidered: %s -> %s", s.recommended, t)
	s.recommended = t
	return true
}

// Upgraded reports whether the one-way gate has engaged.
func (s *TierSelector) Upgraded() bool {
	return s.upgraded
}

// Initial returns the tier chosen for the first iteration.
func (s *TierSelector) Initial() Tier {
	if s.lock != "" {
		return s.lock
	}
	return s.recommended
}

// UpgradeTarget returns the non-FAST tier the run upgrades to.
func (s *TierSelector) UpgradeTarget() Tier {
	if t := s.Initial(); t != TierFast {
		return t
	}
	if s.stylizedTheme() {
		return TierStylized
	}
	return TierRealistic
}

// Select returns the tier for iteration given the current state and best
// score. The first iteration uses the initial choice.
func (s *TierSelector) Select(state State, bestScore float64, iteration int) Tier {
	var t Tier
	switch {
	case s.upgraded:
		t = s.UpgradeTarget()
	case iteration <= 1:
		t = s.Initial()
	default:
		switch state {
		case StateOptimize:
			t = TierFast
			if bestScore >= s.config.SwitchThreshold && iteration >= s.config.MinIterationsBeforeSwitch {
				t = s.UpgradeTarget()
			}
		case StateFinetune, StateConverged:
			t = s.UpgradeTarget()
		default:
			t = TierFast
		}
	}

	if t != TierFast && !s.upgraded {
		s.upgraded = true
		log.Printf("[ORCH] tier upgrade: FAST -> %s (state=%s best=%.3f iter=%d)", t, state, bestScore, iteration)
	}
	return t
}

func (s *TierSelector) stylizedTheme() bool {
	theme := strings.ToLower(s.theme)
	for _, k := range s.config.StylizedKeywords {
		if strings.Contains(theme, k) {
			return true
		}
	}
	return false
}

// #endregion selector
