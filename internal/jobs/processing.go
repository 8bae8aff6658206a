package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	fileutil "sheetmap/internal/file"
	"sheetmap/internal/form"
	"sheetmap/internal/workbook"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// Processor produces the result workbook for req at dest, reporting
// progress through report.
type Processor func(ctx context.Context, req Request, dest string, report func(progress int, message string)) error

const (
	msgPreparing = "Preparing..."
	msgDone      = "Done!"
)

// CopyTemplate checks both workbooks and the mapping rules, then writes a
// copy of the template workbook as the result.
func CopyTemplate(ctx context.Context, req Request, dest string, report func(int, string)) error {
	report(15, "Reading source workbook...")
	src, err := workbook.ReadHeader(req.SourcePath, req.SourceStartCell)
	if err != nil {
		return fmt.Errorf("source workbook: %w", err)
	}

	report(35, "Reading template workbook...")
	tmpl, err := workbook.ReadHeader(req.TemplatePath, req.TemplateStartCell)
	if err != nil {
		return fmt.Errorf("template workbook: %w", err)
	}
	log.Debug().
		Int("source_columns", len(src.Columns)).
		Int("source_rows", src.DataRows).
		Int("template_columns", len(tmpl.Columns)).
		Msg("workbooks read")

	report(55, "Applying manual rules...")
	rules := req.Rules
	if len(rules) == 0 {
		rules = req.TemplateRules
	}
	for _, r := range rules {
		if _, err := excelize.ColumnNameToNumber(r.SourceColumn); err != nil {
			return fmt.Errorf("rule %s=%s: %w", r.SourceColumn, r.TemplateColumn, err)
		}
		if _, err := excelize.ColumnNameToNumber(r.TemplateColumn); err != nil {
			return fmt.Errorf("rule %s=%s: %w", r.SourceColumn, r.TemplateColumn, err)
		}
	}

	switch req.PostProcessing {
	case "", form.PostNone:
	case form.PostCoordsToAddress, form.PostAddressToCoords:
		report(75, "Post-processing: "+req.PostProcessing+"...")
	default:
		return fmt.Errorf("unknown post-processing function %q", req.PostProcessing)
	}

	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	report(90, "Saving result...")
	f, err := excelize.OpenFile(req.TemplatePath)
	if err != nil {
		return fmt.Errorf("open template: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := f.SaveAs(dest); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (m *Manager) run(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	ctx := m.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	process := m.process
	if process == nil {
		process = CopyTemplate
	}
	job.State = StateInProgress
	m.mu.Unlock()

	report := func(progress int, message string) {
		m.update(job, progress, message)
		m.pause(ctx)
	}
	report(5, msgPreparing)

	resultFile := job.ID + ".xlsx"
	dest := m.store.ResultPath(resultFile)
	if err := fileutil.EnsureDir(filepath.Dir(dest)); err != nil {
		m.fail(job, err)
		return
	}
	if err := process(ctx, job.Request, dest, report); err != nil {
		m.fail(job, err)
		return
	}

	m.mu.Lock()
	job.State = StateReady
	job.Progress = 100
	job.Message = msgDone
	job.ResultFile = resultFile
	m.mu.Unlock()
	if err := m.persistJob(job); err != nil {
		log.Warn().Str("task_id", job.ID).Err(err).Msg("persist final state failed")
	}
	log.Info().Str("task_id", job.ID).Str("result_file", resultFile).Msg("job finished")
}

func (m *Manager) update(job *Job, progress int, message string) {
	m.mu.Lock()
	job.Progress = progress
	job.Message = message
	m.mu.Unlock()
	if err := m.persistJob(job); err != nil {
		log.Warn().Str("task_id", job.ID).Err(err).Msg("persist progress failed")
	}
}

func (m *Manager) pause(ctx context.Context) {
	if m.stepDelay <= 0 {
		return
	}
	t := time.NewTimer(m.stepDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (m *Manager) fail(job *Job, err error) {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "cancelled"
	}
	m.mu.Lock()
	job.State = StateFailed
	job.Progress = 100
	job.Message = "Error: " + msg
	job.ResultFile = ""
	m.mu.Unlock()
	if err := m.persistJob(job); err != nil {
		log.Warn().Str("task_id", job.ID).Err(err).Msg("persist failed state failed")
	}
	log.Warn().Str("task_id", job.ID).Str("reason", msg).Msg("job failed")
}
