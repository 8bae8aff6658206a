package task

import (
	"math"
	"strings"

	"sheetmap/internal/form"
)

// ErrorPrefixes mark a status message as a failure report. The production
// service writes "Ошибка: ...", the bundled stand-in writes "Error: ...".
var ErrorPrefixes = []string{"Error", "Ошибка"}

// Handle identifies a server-side task. It is assigned once at submission.
type Handle struct {
	ID string `json:"task_id"`
}

// Status is one polled snapshot of a task. Snapshots replace each other
// wholesale; nothing is merged between ticks.
type Status struct {
	Progress   float64 `json:"progress,omitempty"`
	Message    string  `json:"status,omitempty"`
	ResultFile string  `json:"result_file,omitempty"`
}

// IsError reports whether the message carries a failure prefix.
func (s Status) IsError() bool {
	msg := strings.TrimSpace(s.Message)
	for _, prefix := range ErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// Complete reports whether processing has finished, successfully or not.
func (s Status) Complete() bool {
	return (!math.IsNaN(s.Progress) && s.Progress >= 100) || s.ResultFile != ""
}

// Terminal reports whether polling must stop after this snapshot.
func (s Status) Terminal() bool {
	return s.Complete() || s.IsError()
}

// TemplateInfo describes a template stored on the server, selectable by ID
// instead of uploading a template workbook.
type TemplateInfo struct {
	ID              string      `json:"id"`
	Name            string      `json:"template_name"`
	HeaderStartCell string      `json:"header_start_cell"`
	Rules           []form.Rule `json:"rules"`
}
