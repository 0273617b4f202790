// Package report renders Q-table dumps as HTML charts.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// StateSummary is the greedy view of one state key.
type StateSummary struct {
	State      statekey.Key
	BestAction qtable.Action
	BestQ      float64
	Visits     int
}

// Summarize reduces rows to one entry per state, choosing the best in-range
// action the same way the table does: highest value, lowest index on ties,
// unseen actions counting as 0.
func Summarize(rows []qtable.Row, nActions int) []StateSummary {
	byState := map[statekey.Key][]qtable.Row{}
	for _, r := range rows {
		byState[r.State] = append(byState[r.State], r)
	}
	out := make([]StateSummary, 0, len(byState))
	for key, rs := range byState {
		values := make([]float64, nActions)
		s := StateSummary{State: key}
		for _, r := range rs {
			s.Visits += r.Visits
			if r.Action >= 0 && int(r.Action) < nActions {
				values[r.Action] = r.Q
			}
		}
		best := math.Inf(-1)
		for a, q := range values {
			if q > best {
				best, s.BestAction = q, qtable.Action(a)
			}
		}
		if !math.IsInf(best, -1) {
			s.BestQ = best
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out
}

// RenderBestValues writes a bar chart of the best value per state key.
func RenderBestValues(w io.Writer, identity string, rows []qtable.Row, nActions int) error {
	summaries := Summarize(rows, nActions)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Q-table: %s", identity),
			Subtitle: "best action value per state",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: "shine",
		}),
	)

	states := make([]string, 0, len(summaries))
	values := make([]opts.BarData, 0, len(summaries))
	visits := make([]opts.BarData, 0, len(summaries))
	for _, s := range summaries {
		p := qtable.Decode(s.BestAction)
		states = append(states, string(s.State))
		values = append(values, opts.BarData{
			Name:  fmt.Sprintf("a=%d d=%d e=%d", s.BestAction, p.Difficulty, p.Enemies),
			Value: s.BestQ,
		})
		visits = append(visits, opts.BarData{Value: s.Visits})
	}
	bar.SetXAxis(states).
		AddSeries("best Q", values).
		AddSeries("visits", visits)

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
