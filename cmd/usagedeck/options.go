package main

import (
	"github.com/spf13/cobra"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the filter choices available in the selected range",
	Long: `Options lists every value the filters accept: all known users, the
models and providers with recorded usage inside the selected range, and,
once users are selected with --users, the API keys those users own.`,
	RunE: runOptions,
}

func init() {
	rootCmd.AddCommand(optionsCmd)
}

func runOptions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	users, err := c.session.Users(ctx)
	if err != nil {
		return err
	}
	opts, err := c.session.FilterOptions(ctx)
	if err != nil {
		return err
	}
	keys, err := c.session.APIKeys(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{
			"range":     c.session.CurrentRange(),
			"users":     users,
			"apiKeys":   keys,
			"models":    opts.Models,
			"providers": opts.Providers,
		})
	}
	printOptions(c.session.Filters(), users, keys, opts)
	return nil
}
