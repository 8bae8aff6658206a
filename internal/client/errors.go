package client

import "fmt"

// SubmissionError reports a rejected or failed POST /process. Server is true
// when the message came from the service's "error" field.
type SubmissionError struct {
	Message string
	Server  bool
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Server {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingError reports a status query that could not complete.
type PollingError struct {
	TaskID string
	Err    error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("status of task %s: %v", e.TaskID, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }
