package main

import (
	"github.com/spf13/cobra"
)

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show aggregate usage for the selected range",
	RunE:  runOverview,
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Compare the selected range against the period before it",
	RunE:  runTrends,
}

func init() {
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(trendsCmd)
}

func runOverview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	view, err := c.session.Overview(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(view)
	}
	if view.Stale {
		infoPrinter.Printfln("showing data fetched %s; a refresh is running", view.FetchedAt.Format("15:04:05"))
	}
	printOverview(view)
	return nil
}

func runTrends(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	view, err := c.session.Trends(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(view)
	}
	printTrends(view)
	return nil
}
