package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List templates stored on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.newClient()
			if err != nil {
				return err
			}
			list, err := cl.Templates(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored templates")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, t := range list {
				pairs := make([]string, 0, len(t.Rules))
				for _, r := range t.Rules {
					pairs = append(pairs, r.SourceColumn+"="+r.TemplateColumn)
				}
				rows = append(rows, []string{t.ID, t.Name, t.HeaderStartCell, strconv.Itoa(len(t.Rules)), strings.Join(pairs, " ")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Header", "Rules", "Mapping"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
