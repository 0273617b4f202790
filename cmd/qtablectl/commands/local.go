package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/config"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/qtable"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/replay"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/report"
	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/storage"
)

var (
	chartOut string

	replayFixture string
	replayPersist bool
	replayForce   bool
)

// #region helpers

// openLocal opens the configured backend and loads user's table from it.
func openLocal() (*qtable.Table, config.Config, func() error, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, cfg, nil, err
	}
	backend, err := storage.Open(cfg.Backend, cfg.Storage)
	if err != nil {
		return nil, cfg, nil, err
	}
	return qtable.New(user, backend, cfg.Table), cfg, backend.Close, nil
}

func printRows(rows []qtable.Row) {
	if len(rows) == 0 {
		fmt.Println(aurora.Faint("(empty table)"))
		return
	}
	for _, r := range rows {
		q := aurora.Green(fmt.Sprintf("%+.6f", r.Q))
		if r.Q < 0 {
			q = aurora.Red(fmt.Sprintf("%+.6f", r.Q))
		}
		fmt.Printf("%-60s a=%-3d %s visits=%d\n", r.State, r.Action, q, r.Visits)
	}
}

// #endregion helpers

// #region commands

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print a user's table straight from the snapshot backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, _, closeFn, err := openLocal()
		if err != nil {
			return err
		}
		defer closeFn()
		if jsonOut {
			return printJSON(t.Rows())
		}
		fmt.Printf("%s user=%s entries=%d\n", aurora.Bold("Q-table"), t.Identity(), t.Len())
		printRows(t.Rows())
		return nil
	},
}

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render the best Q-value per state as an HTML chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, cfg, closeFn, err := openLocal()
		if err != nil {
			return err
		}
		defer closeFn()

		out := chartOut
		if out == "" {
			out = fmt.Sprintf("q_%s.html", t.Identity())
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		if err := report.RenderBestValues(f, t.Identity(), t.Rows(), cfg.Table.NActions); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", aurora.Cyan(out))
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a fixture of transitions through a table",
	Long: `Replay feeds the fixture's transitions through a fresh table and checks any
expected values. With --persist the table is written to the configured backend
under the fixture's identity (or --user when the fixture names none). This
erases any table already stored for that identity, so --persist also requires
--force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFixture == "" {
			return fmt.Errorf("--fixture is required")
		}
		if replayPersist && !replayForce {
			return fmt.Errorf("--persist erases the stored table; pass --force to confirm")
		}
		fx, err := replay.LoadFixture(replayFixture)
		if err != nil {
			return err
		}
		identity := fx.Identity
		if identity == "" {
			identity = user
		}

		var backend storage.Backend
		if replayPersist {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if backend, err = storage.Open(cfg.Backend, cfg.Storage); err != nil {
				return err
			}
			defer backend.Close()
		}
		t := qtable.New(identity, backend, fx.TableConfig())
		if replayPersist {
			if err := t.Reset(); err != nil {
				return err
			}
		}

		transitions := fx.ToTransitions()
		results := replay.Replay(t, transitions)
		sum := replay.Summarize(t, transitions, results)

		failures := 0
		for _, exp := range fx.Expected {
			if exp.Step < 0 || exp.Step >= len(results) {
				fmt.Printf("%s step %d out of range\n", aurora.Red("FAIL"), exp.Step)
				failures++
				continue
			}
			r := results[exp.Step]
			if !replay.Matches(r, exp) {
				fmt.Printf("%s step %d: newQ=%.6f visits=%d, expected newQ=%.6f visits=%d\n",
					aurora.Red("FAIL"), exp.Step, r.NewQ, r.Visits, exp.NewQ, exp.Visits)
				failures++
			}
		}

		if jsonOut {
			return printJSON(sum)
		}
		fmt.Printf("%s %s\n", aurora.Bold("replay"), filepath.Base(replayFixture))
		fmt.Printf("  steps=%d terminal=%d reward=%.3f states=%d entries=%d save_errors=%d\n",
			sum.Steps, sum.Terminal, sum.TotalReward, sum.DistinctKeys, sum.Entries, sum.SaveErrors)
		if failures > 0 {
			return fmt.Errorf("%d expectation(s) failed", failures)
		}
		if len(fx.Expected) > 0 {
			fmt.Printf("  %s %d expectation(s)\n", aurora.Green("PASS"), len(fx.Expected))
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List identities with a stored table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		backend, err := storage.Open(cfg.Backend, cfg.Storage)
		if err != nil {
			return err
		}
		defer backend.Close()
		l, ok := backend.(storage.Lister)
		if !ok {
			return fmt.Errorf("%s backend cannot list identities", cfg.Backend)
		}
		ids, err := l.Identities()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(ids)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

// #endregion commands

func init() {
	chartCmd.Flags().StringVarP(&chartOut, "out", "o", "", "output HTML path (default q_<user>.html)")

	replayCmd.Flags().StringVarP(&replayFixture, "fixture", "f", "", "fixture JSON path")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "replace the stored table with the replayed one")
	replayCmd.Flags().BoolVar(&replayForce, "force", false, "confirm that --persist may erase an existing table")
}
