package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string               `json:"description"`
	Identity    string               `json:"identity"`
	Config      *FixtureConfig       `json:"config,omitempty"`
	Transitions []FixtureTransition  `json:"transitions"`
	Expected    []FixtureExpectation `json:"expected,omitempty"`
}

// FixtureConfig overrides table hyperparameters for the run.
type FixtureConfig struct {
	Alpha    float64 `json:"alpha"`
	Gamma    float64 `json:"gamma"`
	NActions int     `json:"n_actions"`
}

// FixtureTransition mirrors the update request body.
type FixtureTransition struct {
	State     statekey.Record `json:"state"`
	Action    int             `json:"action"`
	Reward    float64         `json:"reward"`
	NextState statekey.Record `json:"next_state"`
	Done      bool            `json:"done"`
}

// FixtureExpectation pins the outcome of one step.
type FixtureExpectation struct {
	Step   int     `json:"step"`
	NewQ   float64 `json:"new_q"`
	Visits int     `json:"visits"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// TableConfig returns the fixture's hyperparameters, or the defaults.
func (f *Fixture) TableConfig() qtable.Config {
	if f.Config == nil {
		return qtable.DefaultConfig()
	}
	return qtable.Config{Alpha: f.Config.Alpha, Gamma: f.Config.Gamma, NActions: f.Config.NActions}
}

// ToTransitions converts fixture transitions to domain Transitions.
func (f *Fixture) ToTransitions() []Transition {
	out := make([]Transition, len(f.Transitions))
	for i, ft := range f.Transitions {
		out[i] = Transition{
			State:     ft.State,
			Action:    qtable.Action(ft.Action),
			Reward:    ft.Reward,
			NextState: ft.NextState,
			Done:      ft.Done,
		}
	}
	return out
}

// Matches reports whether r satisfies exp. Values compare within 1e-9.
func Matches(r Result, exp FixtureExpectation) bool {
	return r.Err == nil && math.Abs(r.NewQ-exp.NewQ) <= 1e-9 && r.Visits == exp.Visits
}

// #endregion fixture-loader
