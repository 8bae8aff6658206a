package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the current status of a submitted task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.newClient()
			if err != nil {
				return err
			}
			st, err := cl.Status(cmd.Context(), args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}

			state := "running"
			switch {
			case st.IsError():
				state = "failed"
			case st.Complete():
				state = "done"
			}
			result := "-"
			if st.ResultFile != "" {
				result = cl.DownloadURL(st.ResultFile)
			}
			rows := [][]string{
				{"Task", args[0]},
				{"State", state},
				{"Progress", strconv.FormatFloat(st.Progress, 'f', -1, 64) + "%"},
				{"Status", st.Message},
				{"Result", result},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}
