// Package qtable is a per-identity tabular Q-learning store with visit counts,
// persisted as a whole snapshot after every update.
package qtable

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
)

// #region config

// ErrNonFinite is returned by Update when the new value would not be a finite
// number. The table is left unchanged.
var ErrNonFinite = errors.New("update produces a non-finite value")

// Config holds the hyperparameters fixed at table construction.
type Config struct {
	Alpha    float64 // learning rate
	Gamma    float64 // discount factor
	NActions int
}

// DefaultConfig returns α=0.4, γ=0.95 over the 15-action grid.
func DefaultConfig() Config {
	return Config{Alpha: 0.4, Gamma: 0.95, NActions: DefaultActions}
}

// #endregion config

// #region table-struct

type entry struct {
	q      float64
	visits int
	set    bool
}

type cell struct {
	key    statekey.Key
	action Action
}

// Table maps (state key, action) to a value estimate and visit count for one
// identity. All methods are safe for concurrent use; Update holds the table lock
// across read-modify-write-persist.
type Table struct {
	mu       sync.RWMutex
	identity string
	backend  storage.Backend
	cfg      Config
	now      func() time.Time

	rows map[statekey.Key][]entry
	// Actions outside [0, NActions) are accepted and kept here. BestAction never
	// scans them.
	sparse map[cell]entry
}

// UpdateResult reports one temporal-difference step.
type UpdateResult struct {
	StateKey     statekey.Key
	NextStateKey statekey.Key
	OldQ         float64
	NewQ         float64
	Visits       int
}

// #endregion table-struct

// #region constructor

// New builds the table for identity and loads its snapshot from backend, if any.
// A missing or damaged snapshot yields an empty table; New never fails.
func New(identity string, backend storage.Backend, cfg Config) *Table {
	t := &Table{
		identity: storage.SanitizeIdentity(identity),
		backend:  backend,
		cfg:      cfg,
		now:      time.Now,
		rows:     make(map[statekey.Key][]entry),
		sparse:   make(map[cell]entry),
	}
	t.load()
	return t
}

func (t *Table) load() {
	if t.backend == nil {
		return
	}
	data, err := t.backend.Load(t.identity)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		klog.ErrorS(err, "Q-table snapshot unreadable, starting empty", "identity", t.identity)
		return
	}
	rows, err := DecodeSnapshot(data)
	if err != nil {
		klog.ErrorS(err, "Q-table snapshot corrupt, starting empty", "identity", t.identity)
		return
	}
	for _, r := range rows {
		t.put(r.State, r.Action, entry{q: r.Q, visits: r.Visits, set: true})
	}
	klog.V(2).InfoS("Q-table loaded", "identity", t.identity, "rows", len(rows))
}

// #endregion constructor

// #region accessors

// Identity returns the sanitized identity the table persists under.
func (t *Table) Identity() string { return t.identity }

// Config returns the table's hyperparameters.
func (t *Table) Config() Config { return t.cfg }

// Len returns the number of stored Q-entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.sparse)
	for _, row := range t.rows {
		for _, e := range row {
			if e.set {
				n++
			}
		}
	}
	return n
}

func (t *Table) inRange(a Action) bool {
	return a >= 0 && int(a) < t.cfg.NActions
}

func (t *Table) lookup(key statekey.Key, a Action) entry {
	if !t.inRange(a) {
		return t.sparse[cell{key, a}]
	}
	row, ok := t.rows[key]
	if !ok {
		return entry{}
	}
	return row[a]
}

func (t *Table) put(key statekey.Key, a Action, e entry) {
	if !t.inRange(a) {
		t.sparse[cell{key, a}] = e
		return
	}
	row, ok := t.rows[key]
	if !ok {
		row = make([]entry, t.cfg.NActions)
		t.rows[key] = row
	}
	row[a] = e
}

// Get returns the stored value, or 0 for an unseen pair.
func (t *Table) Get(key statekey.Key, a Action) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(key, a).q
}

// VisitCount returns the number of updates applied to the pair.
func (t *Table) VisitCount(key statekey.Key, a Action) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(key, a).visits
}

// BestAction returns the highest-valued action for key. Ties go to the lowest
// index; an empty scan returns action 0 with value 0.
func (t *Table) BestAction(key statekey.Key) (Action, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bestAction(key)
}

func (t *Table) bestAction(key statekey.Key) (Action, float64) {
	best, bestQ := Action(0), math.Inf(-1)
	for a := Action(0); int(a) < t.cfg.NActions; a++ {
		if q := t.lookup(key, a).q; q > bestQ {
			best, bestQ = a, q
		}
	}
	if math.IsInf(bestQ, -1) {
		return best, 0
	}
	return best, bestQ
}

// #endregion accessors

// #region update

// Update applies one temporal-difference step for (state, a) and persists the
// table before returning. The action is not range-checked. On a persistence
// error the in-memory update stays applied and the error is returned with it.
// A step whose result overflows or is NaN is rejected with ErrNonFinite.
func (t *Table) Update(state statekey.Record, a Action, reward float64, next statekey.Record, done bool) (UpdateResult, error) {
	key := statekey.Encode(state)
	nextKey := statekey.Encode(next)

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.lookup(key, a)
	_, maxNext := t.bestAction(nextKey)

	target := reward
	if !done {
		target += t.cfg.Gamma * maxNext
	}
	newQ := cur.q + t.cfg.Alpha*(target-cur.q)
	if math.IsNaN(newQ) || math.IsInf(newQ, 0) {
		return UpdateResult{StateKey: key, NextStateKey: nextKey, OldQ: cur.q, NewQ: cur.q, Visits: cur.visits},
			fmt.Errorf("%w: state %s action %d", ErrNonFinite, key, a)
	}

	t.put(key, a, entry{q: newQ, visits: cur.visits + 1, set: true})

	res := UpdateResult{
		StateKey:     key,
		NextStateKey: nextKey,
		OldQ:         cur.q,
		NewQ:         newQ,
		Visits:       cur.visits + 1,
	}
	if err := t.saveLocked(); err != nil {
		return res, err
	}
	return res, nil
}

// #endregion update

// #region rows

// Rows dumps every stored Q-entry ordered by state key, then action.
func (t *Table) Rows() []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowsLocked()
}

func (t *Table) rowsLocked() []Row {
	var out []Row
	for key, row := range t.rows {
		for i, e := range row {
			if e.set {
				out = append(out, makeRow(key, Action(i), e))
			}
		}
	}
	for c, e := range t.sparse {
		out = append(out, makeRow(c.key, c.action, e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func makeRow(key statekey.Key, a Action, e entry) Row {
	return Row{State: key, Action: a, ActionParams: Decode(a), Q: e.q, Visits: e.visits}
}

// #endregion rows

// #region persistence

// Save writes the full snapshot to the backend, replacing the previous one.
func (t *Table) Save() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.saveLocked()
}

func (t *Table) saveLocked() error {
	if t.backend == nil {
		return nil
	}
	data, err := encodeSnapshot(t.cfg, t.rowsLocked(), t.now())
	if err != nil {
		return err
	}
	if err := t.backend.Store(t.identity, data); err != nil {
		return fmt.Errorf("save %s: %w", t.identity, err)
	}
	return nil
}

// Reset removes the backing snapshot and empties the table. Hyperparameters are
// kept.
func (t *Table) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make(map[statekey.Key][]entry)
	t.sparse = make(map[cell]entry)
	if t.backend == nil {
		return nil
	}
	if err := t.backend.Remove(t.identity); err != nil {
		return fmt.Errorf("reset %s: %w", t.identity, err)
	}
	return nil
}

// #endregion persistence
