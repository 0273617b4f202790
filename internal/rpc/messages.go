package rpc

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/translog"
)

// #region responses

// HealthResponse answers Health.
type HealthResponse struct {
	OK bool `json:"ok"`
}

// RowsResponse answers Rows.
type RowsResponse struct {
	Rows []qtable.Row `json:"rows"`
}

// ChooseResponse answers Choose.
type ChooseResponse struct {
	StateKey     statekey.Key        `json:"stateKey"`
	Action       qtable.Action       `json:"action"`
	QValue       float64             `json:"q_value"`
	ActionParams qtable.ActionParams `json:"actionParams"`
	Policy       string              `json:"policy"`
}

// UpdateResponse answers Update.
type UpdateResponse struct {
	OK           bool         `json:"ok"`
	StateKey     statekey.Key `json:"stateKey"`
	OldQ         float64      `json:"oldQ"`
	NewQ         float64      `json:"newQ"`
	Visits       int          `json:"visits"`
	TransitionID string       `json:"transitionId,omitempty"`
}

// ResetResponse answers Reset.
type ResetResponse struct {
	OK   bool   `json:"ok"`
	User string `json:"user"`
}

// HistoryResponse answers History.
type HistoryResponse struct {
	Transitions []translog.Entry `json:"transitions"`
}

// #endregion responses

// #region requests

// ChooseRequest asks for an action. A nil Eps uses the server default.
type ChooseRequest struct {
	User  string          `json:"user,omitempty"`
	State statekey.Record `json:"state"`
	Eps   *float64        `json:"eps,omitempty"`
}

// UpdateRequest submits an observed transition.
type UpdateRequest struct {
	User      string          `json:"user,omitempty"`
	State     statekey.Record `json:"state"`
	Action    int             `json:"action"`
	Reward    float64         `json:"reward"`
	NextState statekey.Record `json:"next_state"`
	Done      bool            `json:"done"`
}

// HistoryRequest asks for logged transitions. A zero Limit returns all of them.
type HistoryRequest struct {
	User  string `json:"user,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// #endregion requests

// #region conversion

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("convert message: %w", err)
	}
	return out, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func userOf(m map[string]any) (string, error) {
	v, ok := m["user"]
	if !ok || v == nil {
		return "guest", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("user must be a string")
	}
	return s, nil
}

func recordOf(m map[string]any, field string) (statekey.Record, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return nil, invalid("%s is required", field)
	}
	r, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("%s must be an object", field)
	}
	return statekey.Record(r), nil
}

func numberOf(m map[string]any, field string) (float64, bool, error) {
	v, ok := m[field]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, invalid("%s must be a finite number", field)
	}
	return f, true, nil
}

func parseChoose(in *structpb.Struct) (user string, state statekey.Record, eps float64, err error) {
	m := in.AsMap()
	if user, err = userOf(m); err != nil {
		return
	}
	if state, err = recordOf(m, "state"); err != nil {
		return
	}
	f, set, err := numberOf(m, "eps")
	if err != nil {
		return
	}
	eps = -1
	if set {
		if f < 0 || f > 1 {
			err = invalid("eps must be within [0, 1]")
			return
		}
		eps = f
	}
	return
}

func parseHistory(in *structpb.Struct) (string, int, error) {
	m := in.AsMap()
	user, err := userOf(m)
	if err != nil {
		return "", 0, err
	}
	n, set, err := numberOf(m, "limit")
	if err != nil {
		return "", 0, err
	}
	if set && (n < 0 || n != math.Trunc(n) || n > math.MaxInt32) {
		return "", 0, invalid("limit must be a non-negative integer")
	}
	return user, int(n), nil
}

func parseUpdate(in *structpb.Struct) (string, UpdateRequest, error) {
	m := in.AsMap()
	var req UpdateRequest
	user, err := userOf(m)
	if err != nil {
		return "", req, err
	}
	if req.State, err = recordOf(m, "state"); err != nil {
		return "", req, err
	}
	if req.NextState, err = recordOf(m, "next_state"); err != nil {
		return "", req, err
	}
	a, set, err := numberOf(m, "action")
	if err != nil {
		return "", req, err
	}
	if !set || a != math.Trunc(a) || math.Abs(a) > math.MaxInt32 {
		return "", req, invalid("action must be an integer")
	}
	req.Action = int(a)
	r, set, err := numberOf(m, "reward")
	if err != nil {
		return "", req, err
	}
	if !set {
		return "", req, invalid("reward is required")
	}
	req.Reward = r
	if v, ok := m["done"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return "", req, invalid("done must be a boolean")
		}
		req.Done = b
	}
	req.User = user
	return user, req, nil
}

// #endregion conversion
