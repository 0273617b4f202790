// Package replay feeds recorded transitions through a Q-table, for offline
// training and for regression checks of the update arithmetic.
package replay

import (
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// #region types
// Transition is one recorded (s, a, r, s', done) step.
type Transition struct {
	State     statekey.Record
	Action    qtable.Action
	Reward    float64
	NextState statekey.Record
	Done      bool
}

// Result captures the table's response to one replayed transition.
type Result struct {
	Step int
	qtable.UpdateResult
	// Err is set when the table could not persist after this step.
	Err error
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Steps        int
	Terminal     int
	SaveErrors   int
	TotalReward  float64
	DistinctKeys int
	Entries      int
}

// #endregion types

// #region replay
// Replay applies transitions to t in order and returns one Result per step.
func Replay(t *qtable.Table, transitions []Transition) []Result {
	results := make([]Result, 0, len(transitions))
	for i, tr := range transitions {
		res, err := t.Update(tr.State, tr.Action, tr.Reward, tr.NextState, tr.Done)
		results = append(results, Result{Step: i, UpdateResult: res, Err: err})
	}
	return results
}

// Summarize aggregates a replay run against the table it was applied to.
func Summarize(t *qtable.Table, transitions []Transition, results []Result) Summary {
	s := Summary{Steps: len(results)}
	for _, tr := range transitions {
		if tr.Done {
			s.Terminal++
		}
		s.TotalReward += tr.Reward
	}
	for _, r := range results {
		if r.Err != nil {
			s.SaveErrors++
		}
	}
	keys := map[statekey.Key]bool{}
	rows := t.Rows()
	for _, r := range rows {
		keys[r.State] = true
	}
	s.DistinctKeys = len(keys)
	s.Entries = len(rows)
	return s
}

// #endregion replay
