package testsupport

import (
	"context"
	"sync"
	"time"

	"sheetmap/internal/task"
)

type fetchReply struct {
	status task.Status
	err    error
}

// ScriptedFetcher blocks every status query until the test replies to it.
// It records how many queries were ever outstanding at once.
type ScriptedFetcher struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int

	started chan string
	replies chan fetchReply
}

func NewScriptedFetcher() *ScriptedFetcher {
	return &ScriptedFetcher{
		started: make(chan string, 16),
		replies: make(chan fetchReply),
	}
}

func (f *ScriptedFetcher) Status(ctx context.Context, taskID string) (task.Status, error) {
	f.mu.Lock()
	f.calls = append(f.calls, taskID)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	f.started <- taskID
	select {
	case r := <-f.replies:
		return r.status, r.err
	case <-ctx.Done():
		return task.Status{}, ctx.Err()
	}
}

// Started returns the task id of the next query, or "" after timeout.
func (f *ScriptedFetcher) Started(timeout time.Duration) string {
	select {
	case id := <-f.started:
		return id
	case <-time.After(timeout):
		return ""
	}
}

// Reply answers the outstanding query.
func (f *ScriptedFetcher) Reply(status task.Status) {
	f.replies <- fetchReply{status: status}
}

// Fail answers the outstanding query with err.
func (f *ScriptedFetcher) Fail(err error) {
	f.replies <- fetchReply{err: err}
}

// Calls returns the task ids queried so far.
func (f *ScriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *ScriptedFetcher) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *ScriptedFetcher) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}
