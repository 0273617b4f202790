// Package commands provides the qtablectl subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/rpc"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/statekey"
)

// Persistent flags shared by all subcommands.
var (
	serverAddr string
	user       string
	timeout    time.Duration
	envFile    string
	jsonOut    bool
)

// RootCmd is the top-level qtablectl command.
var RootCmd = &cobra.Command{
	Use:   "qtablectl",
	Short: "Inspect and drive per-user Q-tables",
	Long: `qtablectl talks to a running qtabled over gRPC, or reads the configured
snapshot backend directly with the local commands.

Remote commands:  rows, choose, update, reset, history
Local commands:   dump, users, chart, replay`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061", "qtabled gRPC address")
	RootCmd.PersistentFlags().StringVarP(&user, "user", "u", "guest", "identity whose table to use")
	RootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file for local commands")
	RootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")

	RootCmd.AddCommand(rowsCmd, chooseCmd, updateCmd, resetCmd, historyCmd)
	RootCmd.AddCommand(dumpCmd, usersCmd, chartCmd, replayCmd)
}

// withClient dials the server and runs fn with a timeout context.
func withClient(fn func(ctx context.Context, c *rpc.Client) error) error {
	c, err := rpc.Dial(serverAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func parseRecord(flag, raw string) (statekey.Record, error) {
	if raw == "" {
		return nil, fmt.Errorf("--%s is required", flag)
	}
	var r statekey.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return r, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
