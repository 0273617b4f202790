package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client calls the Q-table service over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
	// closer is nil when the connection is owned by the caller.
	closer interface{ Close() error }
}

// #endregion client-struct

// #region constructor
// Dial connects to the Q-table service at addr.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// #endregion constructor

// #region calls
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fromStruct(out, resp)
}

type userRequest struct {
	User string `json:"user,omitempty"`
}

// Health reports whether the server is serving.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var resp HealthResponse
	if err := c.call(ctx, "Health", struct{}{}, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Rows fetches the identity's Q-entries.
func (c *Client) Rows(ctx context.Context, user string) (RowsResponse, error) {
	var resp RowsResponse
	err := c.call(ctx, "Rows", userRequest{User: user}, &resp)
	return resp, err
}

// Choose asks the server for an action.
func (c *Client) Choose(ctx context.Context, req ChooseRequest) (ChooseResponse, error) {
	var resp ChooseResponse
	err := c.call(ctx, "Choose", req, &resp)
	return resp, err
}

// Update submits a transition.
func (c *Client) Update(ctx context.Context, req UpdateRequest) (UpdateResponse, error) {
	var resp UpdateResponse
	err := c.call(ctx, "Update", req, &resp)
	return resp, err
}

// Reset empties the identity's table.
func (c *Client) Reset(ctx context.Context, user string) (ResetResponse, error) {
	var resp ResetResponse
	err := c.call(ctx, "Reset", userRequest{User: user}, &resp)
	return resp, err
}

// History fetches logged transitions, oldest first.
func (c *Client) History(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	var resp HistoryResponse
	err := c.call(ctx, "History", req, &resp)
	return resp, err
}

// #endregion calls
