package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmap/internal/client"
	"sheetmap/internal/form"
	"sheetmap/internal/poller"
	"sheetmap/internal/progress"
	"sheetmap/internal/task"
	"sheetmap/internal/testsupport"
)

const waitFor = time.Second

type fakeView struct {
	mu         sync.Mutex
	errors     []string
	clears     int
	enabled    []bool
	states     []progress.State
	navigated  []string
	navigation chan string
}

func newFakeView() *fakeView {
	return &fakeView{navigation: make(chan string, 4)}
}

func (v *fakeView) ShowErrors(m []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append([]string(nil), m...)
}

func (v *fakeView) ClearErrors() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = nil
	v.clears++
}

func (v *fakeView) SetSubmitEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = append(v.enabled, enabled)
}

func (v *fakeView) RenderProgress(s progress.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, s)
}

func (v *fakeView) Navigate(url string) {
	v.mu.Lock()
	v.navigated = append(v.navigated, url)
	v.mu.Unlock()
	v.navigation <- url
}

func (v *fakeView) lastState() progress.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.states) == 0 {
		return progress.State{}
	}
	return v.states[len(v.states)-1]
}

func (v *fakeView) submitEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.enabled) > 0 && v.enabled[len(v.enabled)-1]
}

func (v *fakeView) navigations() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.navigated...)
}

type spySubmitter struct {
	calls  atomic.Int32
	handle task.Handle
	err    error
}

func (s *spySubmitter) Submit(context.Context, form.UploadRequest) (task.Handle, error) {
	s.calls.Add(1)
	return s.handle, s.err
}

func validRequest() form.UploadRequest {
	return form.UploadRequest{
		SourceFile:        form.FileFromBytes("source.xlsx", []byte("s")),
		SourceStartCell:   "A1",
		TemplateFile:      form.FileFromBytes("template.xlsx", []byte("t")),
		TemplateStartCell: "A1",
	}
}

func TestSubmitBlockedByValidationMakesNoCalls(t *testing.T) {
	submitter := &spySubmitter{handle: task.Handle{ID: "never"}}
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	c := New(submitter, poller.New(fetcher, poller.WithClock(testsupport.NewFakeClock())), view, nil)

	req := validRequest()
	req.SourceStartCell = ""
	loop, err := c.Submit(context.Background(), req)

	require.Nil(t, loop)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, form.Result{form.MsgSourceCellMissing}, vErr.Messages)
	assert.Equal(t, []string{form.MsgSourceCellMissing}, view.errors)
	assert.Zero(t, submitter.calls.Load())
	assert.Empty(t, fetcher.Calls())
	assert.Empty(t, view.states)
}

func TestSubmitClearsPreviousErrors(t *testing.T) {
	submitter := &spySubmitter{err: &client.SubmissionError{Message: "template not found", Server: true}}
	view := newFakeView()
	c := New(submitter, poller.New(testsupport.NewScriptedFetcher(), poller.WithClock(testsupport.NewFakeClock())), view, nil)

	_, err := c.Submit(context.Background(), form.UploadRequest{})
	require.Error(t, err)
	require.NotEmpty(t, view.errors)

	_, err = c.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Empty(t, view.errors)
	assert.Equal(t, 1, view.clears)
}

func TestSubmissionFailureReenablesSubmit(t *testing.T) {
	submitter := &spySubmitter{err: &client.SubmissionError{Message: "template not found", Server: true}}
	view := newFakeView()
	c := New(submitter, poller.New(testsupport.NewScriptedFetcher(), poller.WithClock(testsupport.NewFakeClock())), view, nil)

	loop, err := c.Submit(context.Background(), validRequest())
	require.Nil(t, loop)
	var subErr *client.SubmissionError
	require.ErrorAs(t, err, &subErr)

	assert.Equal(t, []bool{false, true}, view.enabled)
	last := view.lastState()
	assert.True(t, last.Error)
	assert.Equal(t, "Error: template not found", last.Text)
}

func TestSubmitPollsToResultAndNavigatesOnce(t *testing.T) {
	clock := testsupport.NewFakeClock()
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	submitter := &spySubmitter{handle: task.Handle{ID: "t1"}}
	c := New(submitter, poller.New(fetcher, poller.WithClock(clock)), view, nil)

	loop, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, progress.State{Percent: 0, Text: TextQueued}, view.lastState())
	assert.False(t, view.submitEnabled())

	clock.Advance(poller.Interval)
	require.Equal(t, "t1", fetcher.Started(waitFor))
	fetcher.Reply(task.Status{Progress: 40, Message: "Processing"})
	assert.Eventually(t, func() bool {
		return view.lastState() == progress.State{Percent: 40, Text: "Processing"}
	}, waitFor, time.Millisecond)

	clock.Advance(poller.Interval)
	require.Equal(t, "t1", fetcher.Started(waitFor))
	fetcher.Reply(task.Status{Progress: 100, Message: "Done", ResultFile: "out.xlsx"})

	select {
	case url := <-view.navigation:
		assert.Equal(t, "/download/out.xlsx", url)
	case <-time.After(waitFor):
		t.Fatalf("navigation not triggered")
	}
	<-loop.Done()

	for i := 0; i < 4; i++ {
		clock.Advance(poller.Interval)
	}
	assert.Never(t, func() bool { return len(fetcher.Calls()) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{"/download/out.xlsx"}, view.navigations())
	assert.Equal(t, progress.State{Percent: 100, Text: TextComplete}, view.lastState())
	assert.True(t, view.submitEnabled())
}

func TestPollingErrorStopsAndReenables(t *testing.T) {
	clock := testsupport.NewFakeClock()
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	c := New(&spySubmitter{handle: task.Handle{ID: "t2"}}, poller.New(fetcher, poller.WithClock(clock)), view, nil)

	loop, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	clock.Advance(poller.Interval)
	require.NotEmpty(t, fetcher.Started(waitFor))
	fetcher.Fail(&client.PollingError{TaskID: "t2", Err: errors.New("connection refused")})
	<-loop.Done()

	last := view.lastState()
	assert.True(t, last.Error)
	assert.Equal(t, "Error while checking status: connection refused", last.Text)
	assert.True(t, view.submitEnabled())
	assert.Empty(t, view.navigations())
}

func TestPollingErrorKeepsLastPercent(t *testing.T) {
	clock := testsupport.NewFakeClock()
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	c := New(&spySubmitter{handle: task.Handle{ID: "t6"}}, poller.New(fetcher, poller.WithClock(clock)), view, nil)

	loop, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	clock.Advance(poller.Interval)
	require.NotEmpty(t, fetcher.Started(waitFor))
	fetcher.Reply(task.Status{Progress: 60, Message: "Processing"})
	require.Eventually(t, func() bool { return view.lastState().Text == "Processing" }, waitFor, 5*time.Millisecond)

	clock.Advance(poller.Interval)
	require.NotEmpty(t, fetcher.Started(waitFor))
	fetcher.Fail(&client.PollingError{TaskID: "t6", Err: errors.New("connection reset")})
	<-loop.Done()

	assert.Equal(t, progress.State{Percent: 60, Text: "Error while checking status: connection reset", Error: true}, view.lastState())
	assert.True(t, view.submitEnabled())
}

func TestServerReportedFailureKeepsServerText(t *testing.T) {
	clock := testsupport.NewFakeClock()
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	c := New(&spySubmitter{handle: task.Handle{ID: "t3"}}, poller.New(fetcher, poller.WithClock(clock)), view, nil)

	loop, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	clock.Advance(poller.Interval)
	require.NotEmpty(t, fetcher.Started(waitFor))
	fetcher.Reply(task.Status{Progress: 100, Message: "Ошибка: не найдены столбцы"})
	<-loop.Done()

	last := view.lastState()
	assert.Equal(t, progress.State{Percent: 100, Text: "Ошибка: не найдены столбцы", Error: true}, last)
	assert.True(t, view.submitEnabled())
	assert.Empty(t, view.navigations())
}

func TestSecondSubmissionCancelsFirstLoop(t *testing.T) {
	clock := testsupport.NewFakeClock()
	fetcher := testsupport.NewScriptedFetcher()
	view := newFakeView()
	submitter := &spySubmitter{handle: task.Handle{ID: "first"}}
	c := New(submitter, poller.New(fetcher, poller.WithClock(clock)), view, nil)

	first, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	clock.Advance(poller.Interval)
	require.Equal(t, "first", fetcher.Started(waitFor))

	submitter.handle = task.Handle{ID: "second"}
	second, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	<-first.Done()
	assert.Equal(t, poller.StateCancelled, first.Outcome().State)

	clock.Advance(poller.Interval)
	require.Equal(t, "second", fetcher.Started(waitFor))
	assert.Equal(t, 1, fetcher.MaxInFlight())
	fetcher.Reply(task.Status{Progress: 100, ResultFile: "second.xlsx"})
	<-second.Done()

	assert.Equal(t, []string{"/download/second.xlsx"}, view.navigations())
	assert.Equal(t, int32(2), submitter.calls.Load())
}

func TestEndToEndAgainstHTTPService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var polls atomic.Int32
	router.POST("/process", func(c *gin.Context) {
		if _, err := c.FormFile(client.FieldSourceFile); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing source"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": "t1"})
	})
	router.GET("/status/:id", func(c *gin.Context) {
		if polls.Add(1) == 1 {
			c.JSON(http.StatusOK, gin.H{"progress": 40, "status": "Processing"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"progress": 100, "status": "Done", "result_file": "out.xlsx"})
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	cl := client.New(srv.URL)
	clock := testsupport.NewFakeClock()
	view := newFakeView()
	c := New(cl, poller.New(cl, poller.WithClock(clock)), view, cl.DownloadURL)

	loop, err := c.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	clock.Advance(poller.Interval)
	assert.Eventually(t, func() bool { return view.lastState().Percent == 40 }, waitFor, time.Millisecond)
	assert.False(t, view.lastState().Error)

	clock.Advance(poller.Interval)
	select {
	case <-loop.Done():
	case <-time.After(waitFor):
		t.Fatalf("loop did not finish")
	}
	for i := 0; i < 3; i++ {
		clock.Advance(poller.Interval)
	}
	assert.Never(t, func() bool { return polls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []string{srv.URL + "/download/out.xlsx"}, view.navigations())
}
