package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sheetmap/internal/form"
	"sheetmap/internal/workbook"
)

func newInspectCommand() *cobra.Command {
	var cell string

	cmd := &cobra.Command{
		Use:   "inspect <workbook>",
		Short: "Show the header columns that start at a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !form.ValidCell(cell) {
				return fmt.Errorf("invalid cell %q: use a column letter and a row number, e.g. A1", cell)
			}
			h, err := workbook.ReadHeader(args[0], cell)
			if err != nil {
				return err //nolint:wrapcheck
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sheet %q, header row %d, %d data rows\n", h.Sheet, h.Row, h.DataRows)
			if len(h.Columns) == 0 {
				fmt.Fprintln(out, "No header cells found")
				return nil
			}
			rows := make([][]string, 0, len(h.Columns))
			for _, c := range h.Columns {
				rows = append(rows, []string{c.Letter, c.Title})
			}
			fmt.Fprintln(out, renderTable([]string{"Column", "Title"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&cell, "cell", "A1", "First header cell")
	return cmd
}
