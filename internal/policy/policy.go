// Package policy picks actions from a Q-table under an ε-greedy exploration policy.
package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// Branch names which side of the ε-greedy policy fired.
type Branch string

const (
	Random Branch = "random"
	Best   Branch = "best"
)

// Source supplies randomness; tests inject a fixed sequence.
type Source interface {
	Float64() float64
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }
func (globalSource) IntN(n int) int   { return rand.IntN(n) }

// Choice is the outcome of one Choose call.
type Choice struct {
	StateKey statekey.Key
	Action   qtable.Action
	Value    float64
	Params   qtable.ActionParams
	Policy   Branch
}

// Chooser applies ε-greedy selection.
type Chooser struct {
	src Source
}

// NewChooser returns a Chooser drawing from src, or from the process-wide
// generator when src is nil.
func NewChooser(src Source) *Chooser {
	if src == nil {
		src = globalSource{}
	}
	return &Chooser{src: src}
}

// Choose picks a uniformly random action with probability eps, otherwise the
// table's best action for the encoded state. eps must lie in [0, 1].
func (c *Chooser) Choose(t *qtable.Table, state statekey.Record, eps float64) (Choice, error) {
	if !(eps >= 0 && eps <= 1) {
		return Choice{}, fmt.Errorf("epsilon %v outside [0, 1]", eps)
	}
	key := statekey.Encode(state)
	n := t.Config().NActions

	var ch Choice
	if n > 0 && c.src.Float64() < eps {
		a := qtable.Action(c.src.IntN(n))
		ch = Choice{Action: a, Value: t.Get(key, a), Policy: Random}
	} else {
		a, q := t.BestAction(key)
		ch = Choice{Action: a, Value: q, Policy: Best}
	}
	ch.StateKey = key
	ch.Params = qtable.Decode(ch.Action)
	return ch, nil
}
