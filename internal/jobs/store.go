package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	fileutil "sheetmap/internal/file"
	"sheetmap/internal/task"
)

// JobStore abstracts persistence for jobs, templates and their files.
// The default implementation lays everything out under one data directory.
type JobStore interface {
	SaveJob(ctx context.Context, j *Job) error
	LoadJobs(ctx context.Context) ([]*Job, error)
	SaveTemplate(ctx context.Context, t *Template) error
	LoadTemplate(ctx context.Context, id string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
	UploadPath(name string) string
	TemplateFilePath(name string) string
	ResultPath(name string) string
}

// fileStore implements JobStore using the local filesystem under dataDir.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) JobStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) jobDir(id string) string {
	return filepath.Join(s.dataDir, "jobs", id)
}

func (s *fileStore) statusPath(id string) string {
	return filepath.Join(s.jobDir(id), "status.json")
}

func (s *fileStore) templatesDir() string {
	return filepath.Join(s.dataDir, "templates")
}

func (s *fileStore) UploadPath(name string) string {
	return filepath.Join(s.dataDir, "uploads", filepath.Base(name))
}

func (s *fileStore) TemplateFilePath(name string) string {
	return filepath.Join(s.templatesDir(), filepath.Base(name))
}

func (s *fileStore) ResultPath(name string) string {
	return filepath.Join(s.dataDir, "processed", filepath.Base(name))
}

func (s *fileStore) SaveJob(_ context.Context, j *Job) error {
	return fileutil.WriteJSONAtomic(s.statusPath(j.ID), j) //nolint:wrapcheck
}

func (s *fileStore) LoadJobs(_ context.Context) ([]*Job, error) {
	root := filepath.Join(s.dataDir, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var j Job
		if err := readJSON(s.statusPath(e.Name()), &j); err != nil {
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (s *fileStore) SaveTemplate(_ context.Context, t *Template) error {
	return fileutil.WriteJSONAtomic(filepath.Join(s.templatesDir(), t.ID+".json"), t) //nolint:wrapcheck
}

func (s *fileStore) LoadTemplate(_ context.Context, id string) (*Template, error) {
	if id == "" || id != filepath.Base(id) {
		return nil, task.ErrTemplateNotFound
	}
	var t Template
	if err := readJSON(filepath.Join(s.templatesDir(), id+".json"), &t); err != nil {
		if os.IsNotExist(err) {
			return nil, task.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("load template %s: %w", id, err)
	}
	t.ID = id
	return &t, nil
}

func (s *fileStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	entries, err := os.ReadDir(s.templatesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]*Template, 0, len(entries))
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		t, err := s.LoadTemplate(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path) //nolint:gosec // path is controlled by application
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
