package main

import (
	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/gateway"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the selected range and archive the file",
	RunE:  runExport,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute today's usage and drop cached results",
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(refreshCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "export format: csv or json")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	receipt, err := c.session.Export(ctx, gateway.Format(exportFormat))
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{
			"filename":    receipt.Filename,
			"format":      receipt.Format,
			"bytes":       receipt.Size,
			"contentType": receipt.ContentType,
			"createdAt":   receipt.CreatedAt,
		})
	}
	successPrinter.Printfln("wrote %s (%d bytes, %s)", receipt.Filename, receipt.Size, receipt.ContentType)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	if err := c.session.RefreshToday(ctx); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"status": "ok"})
	}
	successPrinter.Println("today's usage recomputed; cached queries dropped")
	return nil
}
