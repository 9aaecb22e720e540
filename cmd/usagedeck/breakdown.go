package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/gateway"
	"github.com/usagedeck/usagedeck/internal/pagination"
	"github.com/usagedeck/usagedeck/internal/session"
)

// sortColumns is the set of columns the breakdown endpoints sort by.
var sortColumns = []string{"cost", "requests", "tokens", "name"}

var (
	breakdownPage      int
	breakdownPerPage   int
	breakdownSortBy    string
	breakdownSortOrder string
)

var breakdownCmd = &cobra.Command{
	Use:   "breakdown [user|model|provider]",
	Short: "Show usage grouped by user, model, or provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runBreakdown,
}

func init() {
	rootCmd.AddCommand(breakdownCmd)

	breakdownCmd.Flags().IntVar(&breakdownPage, "page", 0, "page to fetch (1-based)")
	breakdownCmd.Flags().IntVar(&breakdownPerPage, "per-page", 0, "rows per page: 10, 25, 50, or 100")
	breakdownCmd.Flags().StringVar(&breakdownSortBy, "sort-by", "", "sort column: cost, requests, tokens, or name")
	breakdownCmd.Flags().StringVar(&breakdownSortOrder, "sort-order", "", "sort direction: asc or desc")
}

func runBreakdown(cmd *cobra.Command, args []string) error {
	dim := gateway.Dimension(args[0])
	if !dim.Valid() {
		return fmt.Errorf("unknown dimension %q, want user, model, or provider", args[0])
	}

	ctx := cmd.Context()
	c, err := newConsole(ctx)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	tf := tableFlags{
		page:      breakdownPage,
		perPage:   breakdownPerPage,
		sortBy:    breakdownSortBy,
		sortOrder: breakdownSortOrder,
	}
	if _, err := applyTableFlags(c.session, dim, tf); err != nil {
		return err
	}

	view, err := c.session.Breakdown(ctx, dim)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(view)
	}
	printBreakdown(view)
	return nil
}

// tableFlags carries the breakdown command's pagination flags. Zero and
// empty values mean the flag was not given and the session state stands.
type tableFlags struct {
	page      int
	perPage   int
	sortBy    string
	sortOrder string
}

// applyTableFlags maps the table flags onto the session's pager. SetSort
// flips the direction when handed the current column, so it only runs on
// an actual column change; the requested direction is then reconciled
// with one more flip if it still differs. Page is set last because the
// sort and size setters rewind to the first page.
func applyTableFlags(sess *session.Session, dim gateway.Dimension, tf tableFlags) (pagination.State, error) {
	st, err := sess.Pagination(dim)
	if err != nil {
		return st, err
	}

	if tf.sortBy != "" {
		if !slices.Contains(sortColumns, tf.sortBy) {
			return st, fmt.Errorf("%w: %q", pagination.ErrInvalidSort, tf.sortBy)
		}
		if tf.sortBy != st.SortBy {
			if st, err = sess.SetSort(dim, tf.sortBy); err != nil {
				return st, err
			}
		}
	}
	if tf.sortOrder != "" {
		if tf.sortOrder != pagination.OrderAsc && tf.sortOrder != pagination.OrderDesc {
			return st, fmt.Errorf("invalid sort direction %q, want asc or desc", tf.sortOrder)
		}
		if tf.sortOrder != st.SortOrder {
			if st, err = sess.SetSort(dim, st.SortBy); err != nil {
				return st, err
			}
		}
	}
	if tf.perPage > 0 {
		if st, err = sess.SetPerPage(dim, tf.perPage); err != nil {
			return st, err
		}
	}
	if tf.page > 0 {
		if st, err = sess.SetPage(dim, tf.page); err != nil {
			return st, err
		}
	}
	return st, nil
}
