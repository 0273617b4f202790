package translog

import "time"

// #region transition-entry
// Entry is a single row in the transition_log table.
type Entry struct {
	ID           string    `json:"id"`
	Identity     string    `json:"user"`
	StateKey     string    `json:"stateKey"`
	Action       int       `json:"action"`
	Reward       float64   `json:"reward"`
	NextStateKey string    `json:"nextStateKey"`
	Done         bool      `json:"done"`
	OldQ         float64   `json:"oldQ"`
	NewQ         float64   `json:"newQ"`
	Visits       int       `json:"visits"`
	CreatedAt    time.Time `json:"createdAt"`
}

// #endregion transition-entry
