package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sheetmap/internal/form"
	"sheetmap/internal/poller"
	"sheetmap/internal/workflow"
)

type submitOptions struct {
	source        string
	sourceCell    string
	template      string
	templateCell  string
	savedTemplate string
	rules         []string
	post          string
	outDir        string
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a source workbook, track processing and download the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.source, "source", "", "Source workbook (.xlsx or .xlsm)")
	flags.StringVar(&opts.sourceCell, "source-cell", "", "First header cell of the source, e.g. A1")
	flags.StringVar(&opts.template, "template", "", "Template workbook (.xlsx or .xlsm)")
	flags.StringVar(&opts.templateCell, "template-cell", "", "First header cell of the template")
	flags.StringVar(&opts.savedTemplate, "saved-template", "", "ID of a template stored on the server")
	flags.StringArrayVar(&opts.rules, "rule", nil, "Manual column mapping SRC=DST, repeatable")
	flags.StringVar(&opts.post, "post", form.PostNone, "Post-processing: none, coords_to_address or address_to_coords")
	flags.StringVar(&opts.outDir, "out", "", "Directory for the downloaded result (default: download_dir)")

	return cmd
}

func (o submitOptions) request() (form.UploadRequest, error) {
	req := form.UploadRequest{
		SourceStartCell:   o.sourceCell,
		SavedTemplate:     o.savedTemplate,
		TemplateStartCell: o.templateCell,
		PostProcessing:    o.post,
	}
	if o.source != "" {
		req.SourceFile = form.FileFromPath(o.source)
	}
	if o.template != "" {
		req.TemplateFile = form.FileFromPath(o.template)
	}
	var rules form.RuleList
	for _, raw := range o.rules {
		rule, err := form.ParseRule(raw)
		if err != nil {
			return req, err //nolint:wrapcheck
		}
		rules.Add(rule)
	}
	req.Rules = rules.Rules()
	return req, nil
}

func runSubmit(cmd *cobra.Command, ctx *commandContext, opts submitOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cl, err := ctx.newClient()
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}
	outDir := opts.outDir
	if outDir == "" {
		outDir = cfg.DownloadDir
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := newTerminalView(runCtx, cmd.OutOrStdout(), cl, outDir)
	controller := workflow.New(cl, poller.New(cl), view, cl.DownloadURL)

	loop, err := controller.Submit(runCtx, req)
	if err != nil {
		var invalid *workflow.ValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%d validation error(s)", len(invalid.Messages))
		}
		view.finish()
		return err //nolint:wrapcheck
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Task %s submitted to %s\n", loop.Handle().ID, cfg.BaseURL)

	<-loop.Done()
	view.finish()
	outcome := loop.Outcome()

	switch outcome.State {
	case poller.StateCancelled:
		return context.Canceled
	case poller.StateFailed:
		var serverErr *poller.ServerFailure
		if errors.As(outcome.Err, &serverErr) {
			return errors.New(serverErr.Message)
		}
		return outcome.Err
	}
	if _, err := view.result(); err != nil {
		return err
	}
	return nil
}
