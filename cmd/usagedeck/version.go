package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("usagedeck %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
