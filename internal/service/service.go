// Package service implements the collaborator-facing Q-table operations: dump,
// ε-greedy choose, transition update and reset, on top of the identity registry.
package service

import (
	"errors"
	"time"

	"k8s.io/klog/v2"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/metrics"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/policy"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/registry"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/translog"
)

// #region types

// ErrNoTransitionLog is returned by History when no transition log is configured.
var ErrNoTransitionLog = errors.New("transition log disabled")

// Transition is one observed (s, a, r, s', done) step.
type Transition struct {
	State     statekey.Record
	Action    qtable.Action
	Reward    float64
	NextState statekey.Record
	Done      bool
}

// UpdateOutcome is the result of applying a Transition.
type UpdateOutcome struct {
	qtable.UpdateResult
	// TransitionID is the transition log ID, empty when logging is disabled.
	TransitionID string
}

// Service wires the registry to a chooser and an optional transition log.
type Service struct {
	reg            *registry.Registry
	chooser        *policy.Chooser
	log            *translog.Log
	defaultEpsilon float64
}

// Option configures a Service.
type Option func(*Service)

// WithTransitionLog records every applied update in l.
func WithTransitionLog(l *translog.Log) Option {
	return func(s *Service) { s.log = l }
}

// WithChooser replaces the default ε-greedy chooser.
func WithChooser(c *policy.Chooser) Option {
	return func(s *Service) { s.chooser = c }
}

// WithDefaultEpsilon sets the ε used when a caller passes a negative value.
func WithDefaultEpsilon(eps float64) Option {
	return func(s *Service) { s.defaultEpsilon = eps }
}

// #endregion types

// #region constructor

// New returns a Service over reg.
func New(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		reg:            reg,
		chooser:        policy.NewChooser(nil),
		defaultEpsilon: 0.20,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DefaultEpsilon returns the ε applied when a request does not set one.
func (s *Service) DefaultEpsilon() float64 { return s.defaultEpsilon }

// #endregion constructor

// #region operations

// Rows returns a read-only dump of the identity's Q-entries.
func (s *Service) Rows(identity string) []qtable.Row {
	t := s.table(identity)
	rows := t.Rows()
	klog.V(2).InfoS("q_table", "user", t.Identity(), "rows", len(rows))
	return rows
}

// Choose picks an action for state. A negative eps selects the default.
func (s *Service) Choose(identity string, state statekey.Record, eps float64) (policy.Choice, error) {
	if eps < 0 {
		eps = s.defaultEpsilon
	}
	t := s.table(identity)
	ch, err := s.chooser.Choose(t, state, eps)
	if err != nil {
		return policy.Choice{}, err
	}
	metrics.ChooseTotal.WithLabelValues(string(ch.Policy)).Inc()
	klog.InfoS("q_choose", "user", t.Identity(), "policy", ch.Policy, "eps", eps,
		"state", ch.StateKey, "action", ch.Action, "q", ch.Value)
	return ch, nil
}

// Update applies tr to the identity's table. The table is persisted before
// Update returns; a persistence failure is returned with the computed values.
func (s *Service) Update(identity string, tr Transition) (UpdateOutcome, error) {
	t := s.table(identity)
	start := time.Now()
	res, err := t.Update(tr.State, tr.Action, tr.Reward, tr.NextState, tr.Done)
	metrics.UpdateSeconds.Observe(time.Since(start).Seconds())
	out := UpdateOutcome{UpdateResult: res}
	if errors.Is(err, qtable.ErrNonFinite) {
		klog.InfoS("q_update rejected", "user", t.Identity(), "state", res.StateKey, "action", tr.Action, "reward", tr.Reward)
		return out, err
	}
	if err != nil {
		metrics.SaveErrorsTotal.Inc()
		klog.ErrorS(err, "q_update save failed", "user", t.Identity(), "state", res.StateKey, "action", tr.Action)
		return out, err
	}
	metrics.UpdatesTotal.Inc()
	klog.InfoS("q_update", "user", t.Identity(), "state", res.StateKey, "action", tr.Action,
		"reward", tr.Reward, "oldQ", res.OldQ, "newQ", res.NewQ, "visits", res.Visits)

	if s.log != nil {
		e, err := s.log.Record(translog.Entry{
			Identity:     t.Identity(),
			StateKey:     string(res.StateKey),
			Action:       int(tr.Action),
			Reward:       tr.Reward,
			NextStateKey: string(res.NextStateKey),
			Done:         tr.Done,
			OldQ:         res.OldQ,
			NewQ:         res.NewQ,
			Visits:       res.Visits,
		})
		if err != nil {
			// The table is already persisted; the audit trail is best-effort.
			klog.ErrorS(err, "transition log write failed", "user", t.Identity())
		} else {
			out.TransitionID = e.ID
		}
	}
	return out, nil
}

// Reset empties the identity's table and removes its snapshot.
func (s *Service) Reset(identity string) (string, error) {
	t, err := s.reg.Reset(identity)
	if err != nil {
		return "", err
	}
	metrics.ResetsTotal.Inc()
	metrics.TablesLoaded.Set(float64(s.reg.Len()))
	return t.Identity(), nil
}

// History returns up to limit logged transitions for identity, oldest first.
func (s *Service) History(identity string, limit int) ([]translog.Entry, error) {
	if s.log == nil {
		return nil, ErrNoTransitionLog
	}
	return s.log.List(storage.SanitizeIdentity(identity), limit)
}

// Healthy reports whether the service can serve requests.
func (s *Service) Healthy() bool {
	return s.reg != nil
}

func (s *Service) table(identity string) *qtable.Table {
	t := s.reg.Get(identity)
	metrics.TablesLoaded.Set(float64(s.reg.Len()))
	return t
}

// #endregion operations
