package commands

import (
	"context"
	"fmt"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/internal/rpc"
)

var (
	chooseState string
	chooseEps   float64

	updateState     string
	updateNextState string
	updateAction    int
	updateReward    float64
	updateDone      bool

	historyLimit int
)

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "List the Q-entries of a user's table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Rows(ctx, user)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp)
			}
			printRows(resp.Rows)
			return nil
		})
	},
}

var chooseCmd = &cobra.Command{
	Use:   "choose",
	Short: "Choose an action for a state under ε-greedy exploration",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := parseRecord("state", chooseState)
		if err != nil {
			return err
		}
		req := rpc.ChooseRequest{User: user, State: state}
		if cmd.Flags().Changed("eps") {
			req.Eps = &chooseEps
		}
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Choose(ctx, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp)
			}
			branch := aurora.Green(resp.Policy)
			if resp.Policy == "random" {
				branch = aurora.Yellow(resp.Policy)
			}
			fmt.Printf("%s  action=%d (difficulty=%d enemies=%d timeMult=%d)  q=%.6f  [%s]\n",
				resp.StateKey, resp.Action, resp.ActionParams.Difficulty, resp.ActionParams.Enemies,
				resp.ActionParams.TimeMult, resp.QValue, branch)
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Submit an observed transition",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := parseRecord("state", updateState)
		if err != nil {
			return err
		}
		next, err := parseRecord("next-state", updateNextState)
		if err != nil {
			return err
		}
		req := rpc.UpdateRequest{
			User:      user,
			State:     state,
			Action:    updateAction,
			Reward:    updateReward,
			NextState: next,
			Done:      updateDone,
		}
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Update(ctx, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp)
			}
			fmt.Printf("%s a=%d r=%g %.6f->%.6f [visits=%d]\n",
				resp.StateKey, updateAction, updateReward, resp.OldQ, resp.NewQ, resp.Visits)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a user's table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.Reset(ctx, user)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp)
			}
			fmt.Printf("Q-table cleared for user=%s\n", resp.User)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List logged transitions for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *rpc.Client) error {
			resp, err := c.History(ctx, rpc.HistoryRequest{User: user, Limit: historyLimit})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(resp)
			}
			for _, e := range resp.Transitions {
				mark := ""
				if e.Done {
					mark = aurora.Magenta(" done").String()
				}
				fmt.Printf("%s %s a=%d r=%g %.6f->%.6f [visits=%d]%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.StateKey, e.Action, e.Reward,
					e.OldQ, e.NewQ, e.Visits, mark)
			}
			return nil
		})
	},
}

func init() {
	chooseCmd.Flags().StringVarP(&chooseState, "state", "s", "", "state record as JSON")
	chooseCmd.Flags().Float64VarP(&chooseEps, "eps", "e", 0.20, "exploration probability in [0, 1]")

	updateCmd.Flags().StringVarP(&updateState, "state", "s", "", "state record as JSON")
	updateCmd.Flags().StringVarP(&updateNextState, "next-state", "n", "", "next state record as JSON")
	updateCmd.Flags().IntVarP(&updateAction, "action", "a", 0, "action index")
	updateCmd.Flags().Float64VarP(&updateReward, "reward", "r", 0, "observed reward")
	updateCmd.Flags().BoolVar(&updateDone, "done", false, "transition ended the episode")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum number of transitions, 0 for all")
}
