package game

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Pack creation types
const (
	// PackCreationDefault creates one pool per denomination and bet option.
	PackCreationDefault = ""
	// PackCreationAll creates a single pool per game shared by every denomination.
	PackCreationAll = "all"
)

// Manifest is the package data the level catalog is built from
type Manifest struct {
	Games []Detail          `mapstructure:"games" json:"games"`
	Packs []ProgressivePack `mapstructure:"progressive_packs" json:"progressivePacks"`
}

// Detail describes one installed game theme
type Detail struct {
	GameID          int             `mapstructure:"game_id" json:"gameId"`
	ThemeName       string          `mapstructure:"theme_name" json:"themeName"`
	Denominations   []int64         `mapstructure:"denominations" json:"denominations"`
	BetOptions      []BetOption     `mapstructure:"bet_options" json:"betOptions"`
	WagerCategories []WagerCategory `mapstructure:"wager_categories" json:"wagerCategories"`
	// ProgressivePacks lists the pack names this game plays for.
	ProgressivePacks []string `mapstructure:"progressive_packs" json:"progressivePacks"`
}

// BetOption is a named bet configuration (e.g. "40 lines")
type BetOption struct {
	Name          string `mapstructure:"name" json:"name"`
	MaxBetCredits int    `mapstructure:"max_bet_credits" json:"maxBetCredits"`
}

// WagerCategory is a wager tier; wager-based pool policies create pools per tier
type WagerCategory struct {
	Credits        int     `mapstructure:"credits" json:"credits"`
	PaybackPercent float64 `mapstructure:"payback_percent" json:"paybackPercent"`
}

// ProgressivePack groups the jackpot levels offered together
type ProgressivePack struct {
	ID           int               `mapstructure:"id" json:"id"`
	Name         string            `mapstructure:"name" json:"name"`
	CreationType string            `mapstructure:"creation_type" json:"creationType"`
	Levels       []LevelDefinition `mapstructure:"levels" json:"levels"`
}

// LevelDefinition is the configured shape of a jackpot level. Money is in millicents.
type LevelDefinition struct {
	LevelID             int     `mapstructure:"level_id" json:"levelId"`
	Name                string  `mapstructure:"name" json:"name"`
	LevelType           string  `mapstructure:"level_type" json:"levelType"`
	FundingType         string  `mapstructure:"funding_type" json:"fundingType"`
	TriggerControl      string  `mapstructure:"trigger_control" json:"triggerControl"`
	StartValue          int64   `mapstructure:"start_value" json:"startValue"`
	ResetValue          int64   `mapstructure:"reset_value" json:"resetValue"`
	MaximumValue        int64   `mapstructure:"maximum_value" json:"maximumValue"`
	IncrementRate       float64 `mapstructure:"increment_rate" json:"incrementRate"`
	HiddenIncrementRate float64 `mapstructure:"hidden_increment_rate" json:"hiddenIncrementRate"`
}

// Pack returns the pack definition named name
func (m *Manifest) Pack(name string) (ProgressivePack, bool) {
	return lo.Find(m.Packs, func(p ProgressivePack) bool { return p.Name == name })
}

// Game returns the game with id
func (m *Manifest) Game(id int) (Detail, bool) {
	return lo.Find(m.Games, func(g Detail) bool { return g.GameID == id })
}

// Validate checks cross references between games and packs
func (m *Manifest) Validate() error {
	if dup := lo.FindDuplicatesBy(m.Packs, func(p ProgressivePack) string { return p.Name }); len(dup) > 0 {
		return fmt.Errorf("duplicate progressive pack %q", dup[0].Name)
	}
	if dup := lo.FindDuplicatesBy(m.Games, func(g Detail) int { return g.GameID }); len(dup) > 0 {
		return fmt.Errorf("duplicate game id %d", dup[0].GameID)
	}

	for _, p := range m.Packs {
		if dup := lo.FindDuplicatesBy(p.Levels, func(l LevelDefinition) int { return l.LevelID }); len(dup) > 0 {
			return fmt.Errorf("pack %q: duplicate level id %d", p.Name, dup[0].LevelID)
		}
		if p.CreationType != PackCreationDefault && p.CreationType != PackCreationAll {
			return fmt.Errorf("pack %q: unknown creation type %q", p.Name, p.CreationType)
		}
		for _, l := range p.Levels {
			if l.MaximumValue > 0 && l.ResetValue > l.MaximumValue {
				return fmt.Errorf("pack %q level %d: reset value above maximum", p.Name, l.LevelID)
			}
			if strings.EqualFold(l.TriggerControl, "mystery") && l.MaximumValue <= 0 {
				return fmt.Errorf("pack %q level %d: mystery level without a maximum value", p.Name, l.LevelID)
			}
		}
	}

	for _, g := range m.Games {
		if len(g.Denominations) == 0 {
			return fmt.Errorf("game %d: no denominations", g.GameID)
		}
		for _, name := range g.ProgressivePacks {
			if _, ok := m.Pack(name); !ok {
				return fmt.Errorf("game %d: unknown progressive pack %q", g.GameID, name)
			}
		}
	}
	return nil
}
