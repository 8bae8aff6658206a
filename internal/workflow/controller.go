// Package workflow drives one upload from validation through submission
// and status polling to the downloadable result, reporting every step to a View.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"sheetmap/internal/client"
	"sheetmap/internal/form"
	"sheetmap/internal/poller"
	"sheetmap/internal/progress"
	"sheetmap/internal/task"
)

// Status texts shown while a task moves through its lifecycle.
const (
	TextUploading = "Uploading files to the server..."
	TextQueued    = "Files queued for processing..."
	TextWaiting   = "Waiting..."
	TextComplete  = "Processing complete!"
)

// View is whatever shows the form state to the user.
type View interface {
	ShowErrors(messages []string)
	ClearErrors()
	SetSubmitEnabled(enabled bool)
	RenderProgress(state progress.State)
	// Navigate points the user at a retrieval URL, e.g. by downloading it.
	Navigate(url string)
}

// Submitter sends a validated request and returns the new task.
type Submitter interface {
	Submit(ctx context.Context, req form.UploadRequest) (task.Handle, error)
}

// ValidationError blocks a submission before any network call.
type ValidationError struct {
	Messages form.Result
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Messages, "; ")
}

// Controller glues the validation gate, the submitter and the poller.
type Controller struct {
	submitter   Submitter
	poller      *poller.Poller
	view        View
	downloadURL func(resultFile string) string
}

func New(submitter Submitter, p *poller.Poller, view View, downloadURL func(string) string) *Controller {
	if downloadURL == nil {
		downloadURL = func(f string) string { return "/download/" + f }
	}
	return &Controller{submitter: submitter, poller: p, view: view, downloadURL: downloadURL}
}

// Submit validates req and, when it passes, submits it and starts polling.
// The returned loop finishes on its own; the view is updated along the way.
// Any loop from an earlier submission is cancelled first.
func (c *Controller) Submit(ctx context.Context, req form.UploadRequest) (*poller.Loop, error) {
	if result := form.Validate(req); !result.OK() {
		c.view.ShowErrors(result)
		log.Info().Int("errors", len(result)).Msg("submission blocked by validation")
		return nil, &ValidationError{Messages: result}
	}
	c.view.ClearErrors()

	c.poller.Cancel()
	c.view.SetSubmitEnabled(false)
	c.view.RenderProgress(progress.Present(0, TextUploading, false))

	handle, err := c.submitter.Submit(ctx, req)
	if err != nil {
		c.view.RenderProgress(progress.Present(0, submissionText(err), true))
		c.view.SetSubmitEnabled(true)
		return nil, fmt.Errorf("submit: %w", err)
	}

	log.Info().Str("task_id", handle.ID).Msg("task accepted, polling status")
	c.view.RenderProgress(progress.Present(0, TextQueued, false))
	loop := c.poller.Start(ctx, handle, &tracker{controller: c, handle: handle})
	return loop, nil
}

// Cancel stops tracking the current task and re-enables submission.
func (c *Controller) Cancel() {
	c.poller.Cancel()
	c.view.SetSubmitEnabled(true)
}

// tracker is driven from a single loop goroutine.
type tracker struct {
	controller  *Controller
	handle      task.Handle
	lastPercent float64
}

func (t *tracker) OnStatus(s task.Status) {
	text := s.Message
	if text == "" {
		text = TextWaiting
	}
	t.lastPercent = s.Progress
	t.controller.view.RenderProgress(progress.Present(s.Progress, text, s.IsError()))
}

func (t *tracker) OnDone(o poller.Outcome) {
	view := t.controller.view
	defer view.SetSubmitEnabled(true)

	logger := log.With().Str("task_id", t.handle.ID).Logger()
	switch {
	case o.Succeeded() && o.Status.ResultFile != "":
		logger.Info().Str("result_file", o.Status.ResultFile).Msg("task complete")
		view.RenderProgress(progress.Present(100, TextComplete, false))
		view.Navigate(t.controller.downloadURL(o.Status.ResultFile))
	case o.Succeeded():
		logger.Info().Msg("task finished without a result file")
	default:
		var serverErr *poller.ServerFailure
		if errors.As(o.Err, &serverErr) {
			logger.Warn().Str("status", serverErr.Message).Msg("task failed on server")
			return
		}
		logger.Warn().Err(o.Err).Msg("status polling failed")
		view.RenderProgress(progress.Present(t.lastPercent, pollingText(o.Err), true))
	}
}

func submissionText(err error) string {
	var subErr *client.SubmissionError
	if errors.As(err, &subErr) && subErr.Server {
		return "Error: " + subErr.Message
	}
	return "Error: " + err.Error()
}

func pollingText(err error) string {
	var pollErr *client.PollingError
	if errors.As(err, &pollErr) {
		return "Error while checking status: " + pollErr.Err.Error()
	}
	return "Error while checking status: " + err.Error()
}
