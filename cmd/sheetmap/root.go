package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "sheetmap.yml"

func newRootCommand() *cobra.Command {
	var configFlag string
	var baseURLFlag string
	var verboseFlag bool

	ctx := newCommandContext(&configFlag, &baseURLFlag)

	rootCmd := &cobra.Command{
		Use:           "sheetmap",
		Short:         "Upload spreadsheets for column mapping and fetch the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, verboseFlag)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Processing service URL (overrides base_url)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newTemplatesCommand(ctx))
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
