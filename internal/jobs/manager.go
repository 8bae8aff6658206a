package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	fileutil "sheetmap/internal/file"
	"sheetmap/internal/form"
	"sheetmap/internal/task"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager keeps jobs in memory, persists them through a JobStore and runs
// processing in the background with bounded concurrency.
type Manager struct {
	mu                sync.RWMutex
	jobs              map[string]*Job
	allowedExtensions map[string]struct{}
	semaphore         chan struct{}
	stepDelay         time.Duration
	process           Processor
	workersWG         sync.WaitGroup
	baseCtx           context.Context
	store             JobStore
}

// NewManager creates a manager with default options suitable for tests
func NewManager() *Manager {
	return NewManagerWithOptions(Options{
		DataDir:            "data",
		AllowedExtensions:  []string{".xlsx", ".xlsm"},
		MaxConcurrentTasks: defaultMaxConcurrent,
	})
}

// NewManagerWithOptions creates a manager with provided configuration
func NewManagerWithOptions(opts Options) *Manager {
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = 1
	}
	return &Manager{
		jobs:              make(map[string]*Job),
		allowedExtensions: allowed,
		semaphore:         make(chan struct{}, opts.MaxConcurrentTasks),
		stepDelay:         opts.StepDelay,
		process:           CopyTemplate,
		baseCtx:           context.Background(),
		store:             NewFileStore(opts.DataDir),
	}
}

// IsBusy reports whether the system is currently at max concurrent processing
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// CheckExtension returns an error unless name has an allowed extension.
func (m *Manager) CheckExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if _, ok := m.allowedExtensions[ext]; !ok {
		return task.NewErrExtNotAllowed(ext)
	}
	return nil
}

// SaveUpload stores an uploaded workbook under a unique name and returns its path.
func (m *Manager) SaveUpload(name string, r io.Reader) (string, error) {
	if err := m.CheckExtension(name); err != nil {
		return "", err
	}
	path := m.store.UploadPath(uuid.NewString() + "_" + filepath.Base(name))
	if err := fileutil.CopyAtomic(path, r); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// AddTemplate stores a reusable template workbook with its header cell and rules.
func (m *Manager) AddTemplate(name, headerCell string, rules []form.Rule, fileName string, r io.Reader) (*Template, error) {
	if err := m.CheckExtension(fileName); err != nil {
		return nil, err
	}
	if !form.ValidCell(headerCell) {
		return nil, fmt.Errorf("invalid header cell %q", headerCell)
	}
	id := uuid.NewString()
	excelFile := id + strings.ToLower(filepath.Ext(fileName))
	if err := fileutil.CopyAtomic(m.store.TemplateFilePath(excelFile), r); err != nil {
		return nil, fmt.Errorf("save template workbook: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	}
	tmpl := &Template{
		ID:              id,
		Name:            name,
		ExcelFile:       excelFile,
		HeaderStartCell: strings.ToUpper(headerCell),
		Rules:           rules,
		CreatedAt:       time.Now(),
	}
	if err := m.store.SaveTemplate(context.Background(), tmpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	log.Info().Str("template_id", id).Str("name", name).Msg("template stored")
	return tmpl, nil
}

// Templates lists stored templates ordered by name.
func (m *Manager) Templates() ([]*Template, error) {
	return m.store.ListTemplates(context.Background()) //nolint:wrapcheck
}

// ResolveTemplate fills the template path, header cell and default rules of
// req from the stored template req.TemplateID.
func (m *Manager) ResolveTemplate(req *Request) error {
	tmpl, err := m.store.LoadTemplate(context.Background(), req.TemplateID)
	if err != nil {
		return err //nolint:wrapcheck
	}
	path := m.store.TemplateFilePath(tmpl.ExcelFile)
	if _, err := os.Stat(path); err != nil {
		return task.ErrTemplateNotFound
	}
	req.TemplatePath = path
	req.TemplateStartCell = tmpl.HeaderStartCell
	req.TemplateRules = tmpl.Rules
	return nil
}

// Submit registers a job for req and starts processing it in the background.
// A processing slot is acquired before Submit returns so IsBusy reflects the
// new job immediately.
func (m *Manager) Submit(req Request) (*Job, error) {
	select {
	case m.semaphore <- struct{}{}:
	default:
		return nil, task.ErrServerBusy
	}

	job := &Job{
		ID:        uuid.NewString(),
		State:     StateCreated,
		CreatedAt: time.Now(),
		Message:   "Queued",
		Request:   req,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.persistJob(job); err != nil {
		log.Warn().Str("task_id", job.ID).Err(err).Msg("persist job failed")
	}

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.run(job.ID)
	}()

	return job.copy(), nil
}

// GetJob returns a snapshot of the job with the given ID
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return j.copy(), true
}

// ResultPath returns the on-disk path of a produced result file.
func (m *Manager) ResultPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", task.ErrResultNotFound
	}
	path := m.store.ResultPath(name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", task.ErrResultNotFound
	}
	return path, nil
}

// SetBaseContext sets the base context used to control processing.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight job workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseProcessor allows tests to inject a fake processor.
// Not safe for concurrent mutation with running jobs; intended for test setup only.
func (m *Manager) UseProcessor(p Processor) {
	m.mu.Lock()
	m.process = p
	m.mu.Unlock()
}

func (m *Manager) persistJob(j *Job) error {
	m.mu.RLock()
	snapshot := j.copy()
	m.mu.RUnlock()
	return m.store.SaveJob(context.Background(), snapshot) //nolint:wrapcheck
}

func (j *Job) copy() *Job {
	c := *j
	c.Request.Rules = append([]form.Rule(nil), j.Request.Rules...)
	c.Request.TemplateRules = append([]form.Rule(nil), j.Request.TemplateRules...)
	return &c
}
