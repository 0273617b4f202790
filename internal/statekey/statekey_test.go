package statekey

import (
	"encoding/json"
	"math"
	"testing"
)

func ptr(f float64) *float64 { return &f }

// #region bucket-tests

func TestBucket(t *testing.T) {
	cases := []struct {
		sr   *float64
		want int
	}{
		{nil, 2},
		{ptr(-1), 0},
		{ptr(0), 0},
		{ptr(0.19999), 0},
		{ptr(0.2), 1},
		{ptr(0.39), 1},
		{ptr(0.4), 2},
		{ptr(0.5), 2},
		{ptr(0.6), 3},
		{ptr(0.79), 3},
		{ptr(0.8), 4},
		{ptr(1), 4},
		{ptr(7), 4},
	}
	for _, c := range cases {
		if got := Bucket(c.sr); got != c.want {
			t.Errorf("Bucket(%v) = %d, want %d", c.sr, got, c.want)
		}
	}
}

func TestBucketOf_NonNumericIsUnknown(t *testing.T) {
	for _, v := range []any{nil, "abc", []any{1}, map[string]any{}} {
		if got := BucketOf(Record{"recentSR": v}); got != UnknownBucket {
			t.Errorf("BucketOf(%v) = %d, want %d", v, got, UnknownBucket)
		}
	}
}

func TestBucketOf_NaNIsTopBucket(t *testing.T) {
	if got := BucketOf(Record{"recentSR": math.NaN()}); got != 4 {
		t.Fatalf("BucketOf(NaN) = %d, want 4", got)
	}
}

// #endregion bucket-tests

// #region encode-tests

func TestEncode_Format(t *testing.T) {
	got := Encode(Record{"difficulty": 3, "enemies": 2, "timeMult": 1, "recentSR": 0.65})
	want := Key("difficulty=3|enemies=2|timeMult=1|recentSR_bucket=3")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncode_MissingFieldsDegrade(t *testing.T) {
	got := Encode(Record{})
	want := Key("difficulty=0|enemies=0|timeMult=0|recentSR_bucket=2")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if Encode(nil) != want {
		t.Fatalf("nil record: got %q", Encode(nil))
	}
}

func TestEncode_Coercion(t *testing.T) {
	got := Encode(Record{
		"difficulty": 2.9,
		"enemies":    "4",
		"timeMult":   true,
		"recentSR":   "0.1",
	})
	want := Key("difficulty=2|enemies=4|timeMult=1|recentSR_bucket=0")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = Encode(Record{"difficulty": "hard", "enemies": math.Inf(1), "timeMult": -1.7})
	want = Key("difficulty=0|enemies=0|timeMult=-1|recentSR_bucket=2")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncode_JSONDecodedRecord(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"difficulty":1,"enemies":2,"timeMult":1,"recentSR":0.85,"extra":"x"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Key("difficulty=1|enemies=2|timeMult=1|recentSR_bucket=4")
	if got := Encode(r); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncode_BucketStability(t *testing.T) {
	base := Record{"difficulty": 1, "enemies": 1, "timeMult": 1}
	ranges := [][2]float64{{0, 0.2}, {0.2, 0.4}, {0.4, 0.6}, {0.6, 0.8}, {0.8, 1}}
	for _, r := range ranges {
		var first Key
		for i := 0; i < 20; i++ {
			sr := r[0] + (r[1]-r[0])*float64(i)/20
			rec := Record{"recentSR": sr}
			for k, v := range base {
				rec[k] = v
			}
			k := Encode(rec)
			if i == 0 {
				first = k
				continue
			}
			if k != first {
				t.Fatalf("range %v: sr=%v gave %q, want %q", r, sr, k, first)
			}
		}
	}
}

func TestEncode_Deterministic(t *testing.T) {
	r := Record{"difficulty": 4, "enemies": 0, "timeMult": 1, "recentSR": 0.3}
	a := Encode(r)
	for i := 0; i < 100; i++ {
		if b := Encode(r); a != b {
			t.Fatalf("non-deterministic key: %q vs %q", a, b)
		}
	}
}

// #endregion encode-tests
