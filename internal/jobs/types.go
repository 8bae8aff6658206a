package jobs

import (
	"time"

	"sheetmap/internal/form"
	"sheetmap/internal/task"
)

type State string

const (
	StateCreated    State = "created"
	StateInProgress State = "in_progress"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// Request is a submission after its files were stored on disk.
type Request struct {
	SourcePath        string      `json:"source_path"`
	SourceStartCell   string      `json:"source_start_cell"`
	TemplateID        string      `json:"template_id,omitempty"`
	TemplatePath      string      `json:"template_path"`
	TemplateStartCell string      `json:"template_start_cell"`
	Rules             []form.Rule `json:"rules,omitempty"`
	TemplateRules     []form.Rule `json:"template_rules,omitempty"`
	PostProcessing    string      `json:"post_processing"`
}

type Job struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	Progress   int       `json:"progress"`
	Message    string    `json:"status"`
	ResultFile string    `json:"result_file,omitempty"`
	Request    Request   `json:"request"`
}

// Snapshot is the wire view served by GET /status/:id.
func (j Job) Snapshot() task.Status {
	return task.Status{
		Progress:   float64(j.Progress),
		Message:    j.Message,
		ResultFile: j.ResultFile,
	}
}

// Template is a stored template: a workbook plus its header cell and rules.
type Template struct {
	ID              string      `json:"id"`
	Name            string      `json:"template_name"`
	ExcelFile       string      `json:"excel_file"`
	HeaderStartCell string      `json:"header_start_cell"`
	Rules           []form.Rule `json:"rules"`
	CreatedAt       time.Time   `json:"created_at"`
}

type Options struct {
	DataDir            string
	AllowedExtensions  []string
	MaxConcurrentTasks int
	StepDelay          time.Duration
}

const defaultMaxConcurrent = 3
