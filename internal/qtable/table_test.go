package qtable

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
)

// #region helpers

const eps = 1e-12

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func fileTable(t *testing.T) (*Table, *storage.FileBackend) {
	t.Helper()
	b := storage.NewFileBackend(filepath.Join(t.TempDir(), "tables"))
	return New("alice", b, DefaultConfig()), b
}

type failingBackend struct{ storage.Backend }

func (failingBackend) Load(string) ([]byte, error) { return nil, storage.ErrNotFound }
func (failingBackend) Store(string, []byte) error  { return errors.New("disk full") }

var (
	s0 = statekey.Record{"difficulty": 1, "enemies": 1, "timeMult": 1, "recentSR": 0.5}
	s1 = statekey.Record{"difficulty": 2, "enemies": 0, "timeMult": 1, "recentSR": 0.9}
)

// #endregion helpers

// #region action-tests

func TestDecode_Bijection(t *testing.T) {
	seen := map[ActionParams]bool{}
	for a := Action(0); a < DefaultActions; a++ {
		p := Decode(a)
		if p.Difficulty*3+p.Enemies != int(a) {
			t.Errorf("Decode(%d) = %+v does not recompose", a, p)
		}
		if p.TimeMult != 1 {
			t.Errorf("Decode(%d).TimeMult = %d, want 1", a, p.TimeMult)
		}
		if p.Difficulty < 0 || p.Difficulty >= Difficulties || p.Enemies < 0 || p.Enemies >= EnemyLevels {
			t.Errorf("Decode(%d) = %+v outside grid", a, p)
		}
		if seen[p] {
			t.Errorf("Decode(%d) = %+v duplicated", a, p)
		}
		seen[p] = true
		if EncodeParams(p) != a {
			t.Errorf("EncodeParams(Decode(%d)) = %d", a, EncodeParams(p))
		}
	}
	if len(seen) != Difficulties*EnemyLevels {
		t.Fatalf("expected %d distinct params, got %d", Difficulties*EnemyLevels, len(seen))
	}
}

func TestDecode_OutOfRangeFloors(t *testing.T) {
	if p := Decode(-1); p.Difficulty != -1 || p.Enemies != 2 {
		t.Fatalf("Decode(-1) = %+v", p)
	}
	if p := Decode(16); p.Difficulty != 5 || p.Enemies != 1 {
		t.Fatalf("Decode(16) = %+v", p)
	}
}

// #endregion action-tests

// #region query-tests

func TestGet_UnseenIsZero(t *testing.T) {
	tbl := New("u", nil, DefaultConfig())
	if v := tbl.Get("nope", 3); v != 0 {
		t.Fatalf("expected 0, got %f", v)
	}
	if n := tbl.VisitCount("nope", 3); n != 0 {
		t.Fatalf("expected 0 visits, got %d", n)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Get must not create entries, Len=%d", tbl.Len())
	}
}

func TestBestAction_AllUnseen(t *testing.T) {
	tbl := New("u", nil, DefaultConfig())
	a, v := tbl.BestAction("k")
	if a != 0 || v != 0 {
		t.Fatalf("expected (0, 0), got (%d, %f)", a, v)
	}
}

func TestBestAction_NoActions(t *testing.T) {
	tbl := New("u", nil, Config{Alpha: 0.4, Gamma: 0.95, NActions: 0})
	a, v := tbl.BestAction("k")
	if a != 0 || v != 0 || math.IsInf(v, 0) {
		t.Fatalf("expected (0, 0), got (%d, %f)", a, v)
	}
}

func TestBestAction_TieBreakLowestIndex(t *testing.T) {
	tbl := New("u", nil, DefaultConfig())
	key := statekey.Key("k")
	for a := Action(0); a < DefaultActions; a++ {
		if a == 4 || a == 9 {
			continue
		}
		tbl.put(key, a, entry{q: -1, visits: 1, set: true})
	}
	a, v := tbl.BestAction(key)
	if a != 4 || v != 0 {
		t.Fatalf("expected (4, 0), got (%d, %f)", a, v)
	}
}

func TestBestAction_Max(t *testing.T) {
	tbl := New("u", nil, DefaultConfig())
	key := statekey.Key("k")
	tbl.put(key, 2, entry{q: 0.5, set: true})
	tbl.put(key, 7, entry{q: 1.5, set: true})
	tbl.put(key, 11, entry{q: 1.5, set: true})
	a, v := tbl.BestAction(key)
	if a != 7 || v != 1.5 {
		t.Fatalf("expected (7, 1.5), got (%d, %f)", a, v)
	}
}

func TestQueries_DoNotMutate(t *testing.T) {
	tbl, _ := fileTable(t)
	if _, err := tbl.Update(s0, 3, 1, s1, false); err != nil {
		t.Fatalf("Update: %v", err)
	}
	before := tbl.Rows()
	key := statekey.Encode(s0)
	for i := 0; i < 5; i++ {
		tbl.Get(key, 3)
		tbl.Get(key, 8)
		tbl.BestAction(key)
		tbl.BestAction("other")
		tbl.Rows()
	}
	after := tbl.Rows()
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("queries changed state: %+v -> %+v", before, after)
	}
}

// #endregion query-tests

// #region update-tests

func TestUpdate_Terminal(t *testing.T) {
	tbl, _ := fileTable(t)
	res, err := tbl.Update(s0, 3, 1.0, s1, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.OldQ != 0 || !approx(res.NewQ, 0.4) || res.Visits != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.StateKey != statekey.Encode(s0) || res.NextStateKey != statekey.Encode(s1) {
		t.Fatalf("unexpected keys %+v", res)
	}
}

func TestUpdate_Bootstrapped(t *testing.T) {
	tbl, _ := fileTable(t)
	tbl.put(statekey.Encode(s1), 5, entry{q: 2.0, visits: 1, set: true})
	res, err := tbl.Update(s0, 3, 1.0, s1, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !approx(res.NewQ, 1.16) {
		t.Fatalf("expected 1.16, got %.15f", res.NewQ)
	}
}

func TestUpdate_OverwritesValue(t *testing.T) {
	tbl, _ := fileTable(t)
	tbl.Update(s0, 0, 1.0, s1, true)
	res, _ := tbl.Update(s0, 0, 1.0, s1, true)
	// 0.4 + 0.4*(1-0.4)
	if !approx(res.OldQ, 0.4) || !approx(res.NewQ, 0.64) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUpdate_VisitCounts(t *testing.T) {
	tbl, _ := fileTable(t)
	rewards := []float64{1, -3, 0, 10, 0.5, -0.25, 2}
	for i, r := range rewards {
		res, err := tbl.Update(s0, 6, r, s1, i%2 == 0)
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		if res.Visits != i+1 {
			t.Fatalf("update %d: visits=%d", i, res.Visits)
		}
	}
	if n := tbl.VisitCount(statekey.Encode(s0), 6); n != len(rewards) {
		t.Fatalf("expected %d visits, got %d", len(rewards), n)
	}
}

func TestUpdate_OutOfRangeActionAccepted(t *testing.T) {
	tbl, _ := fileTable(t)
	res, err := tbl.Update(s0, 42, 1.0, s1, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	key := statekey.Encode(s0)
	if !approx(tbl.Get(key, 42), 0.4) || res.Visits != 1 {
		t.Fatalf("out-of-range action not stored: %+v", res)
	}
	if a, v := tbl.BestAction(key); a != 0 || v != 0 {
		t.Fatalf("out-of-range action leaked into BestAction: (%d, %f)", a, v)
	}
	rows := tbl.Rows()
	if len(rows) != 1 || rows[0].Action != 42 || rows[0].ActionParams.Difficulty != 14 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestUpdate_PersistsSynchronously(t *testing.T) {
	tbl, b := fileTable(t)
	tbl.Update(s0, 1, 1.0, s1, true)
	data, err := os.ReadFile(b.Path("alice"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("snapshot not JSON: %v", err)
	}
	if snap.Meta.Alpha != 0.4 || snap.Meta.Gamma != 0.95 || snap.Meta.NActions != 15 || snap.Meta.TS <= 0 {
		t.Fatalf("unexpected meta %+v", snap.Meta)
	}
	if len(snap.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(snap.Rows))
	}
	r := snap.Rows[0]
	if r.State != statekey.Encode(s0) || r.Action != 1 || r.Visits != 1 || !approx(r.Q, 0.4) {
		t.Fatalf("unexpected row %+v", r)
	}
	if r.ActionParams != (ActionParams{Difficulty: 0, Enemies: 1, TimeMult: 1}) {
		t.Fatalf("unexpected params %+v", r.ActionParams)
	}
}

func TestUpdate_SaveErrorReturned(t *testing.T) {
	tbl := New("u", failingBackend{}, DefaultConfig())
	res, err := tbl.Update(s0, 1, 1.0, s1, true)
	if err == nil {
		t.Fatal("expected save error")
	}
	if !approx(res.NewQ, 0.4) || tbl.VisitCount(res.StateKey, 1) != 1 {
		t.Fatalf("in-memory update should stay applied: %+v", res)
	}
}

func TestUpdate_OverflowRejected(t *testing.T) {
	tbl, b := fileTable(t)
	if _, err := tbl.Update(s0, 0, -1.7e308, s0, true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	res, err := tbl.Update(s0, 0, 1.7e308, s0, true)
	if !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	key := statekey.Encode(s0)
	if res.Visits != 1 || tbl.VisitCount(key, 0) != 1 || math.IsInf(tbl.Get(key, 0), 0) {
		t.Fatalf("rejected step must leave the table unchanged: %+v", res)
	}
	if _, err := tbl.Update(s0, 0, math.NaN(), s1, true); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite for NaN reward, got %v", err)
	}

	// Later updates still persist.
	if _, err := tbl.Update(s1, 2, 1.0, s0, true); err != nil {
		t.Fatalf("Update after rejected step: %v", err)
	}
	reloaded := New("alice", b, DefaultConfig())
	if reloaded.Len() != 2 || !approx(reloaded.Get(statekey.Encode(s1), 2), 0.4) {
		t.Fatalf("expected 2 persisted entries, got %d", reloaded.Len())
	}
}

func TestUpdate_ConcurrentSameIdentity(t *testing.T) {
	tbl, _ := fileTable(t)
	const workers, per = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				if _, err := tbl.Update(s0, 2, 1.0, s1, true); err != nil {
					t.Errorf("Update: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if n := tbl.VisitCount(statekey.Encode(s0), 2); n != workers*per {
		t.Fatalf("lost updates: visits=%d, want %d", n, workers*per)
	}
}

// #endregion update-tests

// #region persistence-tests

func TestPersistence_RoundTrip(t *testing.T) {
	tbl, b := fileTable(t)
	tbl.Update(s0, 1, 1.0, s1, true)
	tbl.Update(s0, 1, 0.5, s1, false)
	tbl.Update(s1, 14, -2.0, s0, false)
	tbl.Update(s0, 99, 3.0, s1, true)

	fresh := New("alice", b, DefaultConfig())
	want, got := tbl.Rows(), fresh.Rows()
	if len(want) != len(got) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("row %d: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestPersistence_CorruptSnapshot(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"meta": {"alpha": 0.4}, "rows": [{"state": "k", "act`,
		"not json":       `garbage`,
		"rows not list":  `{"rows": {"state": "k"}}`,
		"missing Q":      `{"rows": [{"state": "k", "action": 1}]}`,
		"state not text": `{"rows": [{"state": 7, "action": 1, "Q": 1}]}`,
		"float action":   `{"rows": [{"state": "k", "action": 1.5, "Q": 1}]}`,
		"negative visit": `{"rows": [{"state": "k", "action": 1, "Q": 1, "visits": -2}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			b := storage.NewFileBackend(t.TempDir())
			if err := os.WriteFile(b.Path("bob"), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			tbl := New("bob", b, DefaultConfig())
			if tbl.Len() != 0 {
				t.Fatalf("expected empty table, got %d entries", tbl.Len())
			}
		})
	}
}

func TestPersistence_VisitsDefaultToZero(t *testing.T) {
	b := storage.NewFileBackend(t.TempDir())
	body := `{"meta": {}, "rows": [{"state": "k", "action": 2, "Q": 0.75}]}`
	os.WriteFile(b.Path("carol"), []byte(body), 0o644)
	tbl := New("carol", b, DefaultConfig())
	if tbl.Get("k", 2) != 0.75 || tbl.VisitCount("k", 2) != 0 {
		t.Fatalf("unexpected entry: Q=%f visits=%d", tbl.Get("k", 2), tbl.VisitCount("k", 2))
	}
}

func TestPersistence_MissingRowsIsEmpty(t *testing.T) {
	rows, err := DecodeSnapshot([]byte(`{"meta": {"alpha": 0.4}}`))
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows and no error, got %v %v", rows, err)
	}
}

func TestSave_Idempotent(t *testing.T) {
	tbl, b := fileTable(t)
	tbl.Update(s0, 1, 1.0, s1, true)
	if err := tbl.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := tbl.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fresh := New("alice", b, DefaultConfig())
	if fresh.Len() != 1 || fresh.VisitCount(statekey.Encode(s0), 1) != 1 {
		t.Fatalf("unexpected reload after repeated saves: len=%d", fresh.Len())
	}
}

func TestReset(t *testing.T) {
	tbl, b := fileTable(t)
	tbl.Update(s0, 1, 1.0, s1, true)
	if err := tbl.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after reset, got %d", tbl.Len())
	}
	if _, err := os.Stat(b.Path("alice")); !os.IsNotExist(err) {
		t.Fatalf("expected snapshot removed, stat err=%v", err)
	}
	if tbl.Config() != DefaultConfig() {
		t.Fatalf("hyperparameters changed: %+v", tbl.Config())
	}
	if err := tbl.Reset(); err != nil {
		t.Fatalf("Reset without snapshot: %v", err)
	}
	if New("alice", b, DefaultConfig()).Len() != 0 {
		t.Fatal("reset table reloaded stale rows")
	}
}

// #endregion persistence-tests
