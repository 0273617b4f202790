package qtable

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// #region snapshot-types

// Snapshot is the persisted form of a Table.
type Snapshot struct {
	Meta Meta  `json:"meta"`
	Rows []Row `json:"rows"`
}

// Meta records the hyperparameters the table was saved with.
type Meta struct {
	Alpha    float64 `json:"alpha"`
	Gamma    float64 `json:"gamma"`
	NActions int     `json:"n_actions"`
	TS       float64 `json:"ts"`
}

// Row is one Q-entry in a dump. ActionParams is derived and informational only.
type Row struct {
	State        statekey.Key `json:"state"`
	Action       Action       `json:"action"`
	ActionParams ActionParams `json:"actionParams"`
	Q            float64      `json:"Q"`
	Visits       int          `json:"visits"`
}

// #endregion snapshot-types

// #region encode-decode

func encodeSnapshot(cfg Config, rows []Row, now time.Time) ([]byte, error) {
	if rows == nil {
		rows = []Row{}
	}
	snap := Snapshot{
		Meta: Meta{
			Alpha:    cfg.Alpha,
			Gamma:    cfg.Gamma,
			NActions: cfg.NActions,
			TS:       float64(now.UnixNano()) / 1e9,
		},
		Rows: rows,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// loadedRow uses pointers so that missing required fields are detectable.
type loadedRow struct {
	State  *string  `json:"state"`
	Action *float64 `json:"action"`
	Q      *float64 `json:"Q"`
	Visits *float64 `json:"visits"`
}

type loadedSnapshot struct {
	Rows []loadedRow `json:"rows"`
}

// DecodeSnapshot parses a persisted snapshot. Value and visit count are taken
// verbatim; derived fields are ignored. Any malformed row rejects the whole
// snapshot.
func DecodeSnapshot(data []byte) ([]Row, error) {
	var snap loadedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	rows := make([]Row, 0, len(snap.Rows))
	for i, r := range snap.Rows {
		if r.State == nil || r.Action == nil || r.Q == nil {
			return nil, fmt.Errorf("row %d: missing state, action or Q", i)
		}
		a, ok := integral(*r.Action)
		if !ok {
			return nil, fmt.Errorf("row %d: action %v is not an integer", i, *r.Action)
		}
		visits := 0
		if r.Visits != nil {
			v, ok := integral(*r.Visits)
			if !ok || v < 0 {
				return nil, fmt.Errorf("row %d: visits %v is not a count", i, *r.Visits)
			}
			visits = v
		}
		rows = append(rows, Row{
			State:        statekey.Key(*r.State),
			Action:       Action(a),
			ActionParams: Decode(Action(a)),
			Q:            *r.Q,
			Visits:       visits,
		})
	}
	return rows, nil
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// #endregion encode-decode
