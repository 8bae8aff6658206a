package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sheetmap/internal/form"
	"sheetmap/internal/task"
	"sheetmap/internal/testsupport"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManagerWithOptions(Options{
		DataDir:            t.TempDir(),
		AllowedExtensions:  []string{".xlsx", "xlsm"},
		MaxConcurrentTasks: 1,
	})
}

func waitTerminal(t *testing.T, m *Manager, id string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !m.WaitAll(ctx) {
		t.Fatalf("timeout waiting for job %s", id)
	}
	got, ok := m.GetJob(id)
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return got
}

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "source.xlsx")
	tmpl := filepath.Join(dir, "template.xlsx")
	testsupport.WriteWorkbook(t, src, [][]any{{"Lat", "Lon"}, {55.7, 37.6}})
	testsupport.WriteWorkbook(t, tmpl, [][]any{{"Title"}, {"Latitude", "Longitude"}})
	return src, tmpl
}

func TestCheckExtension(t *testing.T) {
	m := newTestManager(t)
	if err := m.CheckExtension("a.XLSX"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.CheckExtension("a.xlsm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.CheckExtension("a.csv"); err == nil || !strings.Contains(err.Error(), "extension not allowed") {
		t.Fatalf("expected extension not allowed error, got %v", err)
	}
}

func TestProcessingFlowReadyAndResultPath(t *testing.T) {
	m := newTestManager(t)
	src, tmpl := writeInputs(t)

	job, err := m.Submit(Request{
		SourcePath:        src,
		SourceStartCell:   "A1",
		TemplatePath:      tmpl,
		TemplateStartCell: "A2",
		Rules:             []form.Rule{{SourceColumn: "A", TemplateColumn: "A"}},
		PostProcessing:    form.PostNone,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitTerminal(t, m, job.ID)
	if got.State != StateReady {
		t.Fatalf("expected ready, got %s (%s)", got.State, got.Message)
	}
	if got.Progress != 100 || got.Message != msgDone {
		t.Fatalf("unexpected final status: %+v", got.Snapshot())
	}
	if got.ResultFile != job.ID+".xlsx" {
		t.Fatalf("unexpected result file %q", got.ResultFile)
	}
	if _, err := m.ResultPath(got.ResultFile); err != nil {
		t.Fatalf("result path: %v", err)
	}
}

func TestProcessingFailureReportsErrorStatus(t *testing.T) {
	m := newTestManager(t)
	src, _ := writeInputs(t)

	job, err := m.Submit(Request{
		SourcePath:        src,
		SourceStartCell:   "A1",
		TemplatePath:      filepath.Join(t.TempDir(), "missing.xlsx"),
		TemplateStartCell: "A1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitTerminal(t, m, job.ID)
	if got.State != StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
	snap := got.Snapshot()
	if !snap.IsError() || snap.Progress != 100 || snap.ResultFile != "" {
		t.Fatalf("unexpected failure snapshot: %+v", snap)
	}
}

func TestUnknownPostProcessingFails(t *testing.T) {
	m := newTestManager(t)
	src, tmpl := writeInputs(t)

	job, err := m.Submit(Request{
		SourcePath: src, SourceStartCell: "A1",
		TemplatePath: tmpl, TemplateStartCell: "A2",
		PostProcessing: "translate",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := waitTerminal(t, m, job.ID)
	if got.State != StateFailed || !strings.Contains(got.Message, "translate") {
		t.Fatalf("expected post-processing failure, got %+v", got)
	}
}

func TestIsBusyWhileProcessing(t *testing.T) {
	m := newTestManager(t)
	blocker := make(chan struct{})
	m.UseProcessor(func(ctx context.Context, req Request, dest string, report func(int, string)) error {
		<-blocker
		return os.WriteFile(dest, []byte("x"), 0o600)
	})

	if _, err := m.Submit(Request{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !m.IsBusy() {
		t.Fatalf("expected manager to be busy while processing")
	}
	if _, err := m.Submit(Request{}); !errors.Is(err, task.ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
	close(blocker)

	if ok := m.WaitAll(context.Background()); !ok {
		t.Fatalf("expected workers to finish")
	}
	if m.IsBusy() {
		t.Fatalf("expected manager to be idle")
	}
}

func TestTemplatesStoreAndResolve(t *testing.T) {
	m := newTestManager(t)
	_, tmplPath := writeInputs(t)
	f, err := os.Open(tmplPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rules := []form.Rule{{SourceColumn: "A", TemplateColumn: "B"}}
	stored, err := m.AddTemplate("Coordinates", "a2", rules, "template.xlsx", f)
	if err != nil {
		t.Fatalf("add template: %v", err)
	}
	if stored.HeaderStartCell != "A2" {
		t.Fatalf("expected upper-cased header cell, got %q", stored.HeaderStartCell)
	}

	list, err := m.Templates()
	if err != nil || len(list) != 1 || list[0].Name != "Coordinates" {
		t.Fatalf("unexpected template list: %+v, err=%v", list, err)
	}

	req := Request{TemplateID: stored.ID}
	if err := m.ResolveTemplate(&req); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if req.TemplateStartCell != "A2" || req.TemplatePath == "" || len(req.TemplateRules) != 1 {
		t.Fatalf("unexpected resolved request: %+v", req)
	}

	missing := Request{TemplateID: "nope"}
	if err := m.ResolveTemplate(&missing); !errors.Is(err, task.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	traversal := Request{TemplateID: "../x"}
	if err := m.ResolveTemplate(&traversal); !errors.Is(err, task.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound for traversal, got %v", err)
	}
}

func TestResultPathRejectsUnknownAndTraversal(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"", "missing.xlsx", "../secret.xlsx"} {
		if _, err := m.ResultPath(name); !errors.Is(err, task.ErrResultNotFound) {
			t.Fatalf("%q: expected ErrResultNotFound, got %v", name, err)
		}
	}
}

func TestSaveUpload(t *testing.T) {
	m := newTestManager(t)
	path, err := m.SaveUpload("../../in.xlsx", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("save upload: %v", err)
	}
	if !strings.HasSuffix(path, "_in.xlsx") {
		t.Fatalf("unexpected upload path %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "data" {
		t.Fatalf("unexpected upload content %q, err=%v", b, err)
	}
	if _, err := m.SaveUpload("in.txt", strings.NewReader("x")); err == nil {
		t.Fatalf("expected extension error")
	}
}

func TestPersistAndLoadFromDisk(t *testing.T) {
	dataDir := t.TempDir()
	m := NewManagerWithOptions(Options{DataDir: dataDir, MaxConcurrentTasks: 1})

	j1 := &Job{ID: "j1", State: StateInProgress, Progress: 40, Message: "Applying manual rules...", CreatedAt: time.Now()}
	j2 := &Job{ID: "j2", State: StateReady, Progress: 100, Message: msgDone, ResultFile: "j2.xlsx", CreatedAt: time.Now()}
	if err := m.persistJob(j1); err != nil {
		t.Fatalf("persist j1: %v", err)
	}
	if err := m.persistJob(j2); err != nil {
		t.Fatalf("persist j2: %v", err)
	}

	m2 := NewManagerWithOptions(Options{DataDir: dataDir, MaxConcurrentTasks: 1})
	if err := m2.LoadFromDisk(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := m2.GetJob("j1")
	if !ok || got.State != StateFailed || !got.Snapshot().IsError() || got.Progress != 100 {
		t.Fatalf("expected j1 failed after load, got: %+v, ok=%v", got, ok)
	}
	if got, ok := m2.GetJob("j2"); !ok || got.State != StateReady || got.ResultFile != "j2.xlsx" {
		t.Fatalf("expected j2 ready after load, got: %+v, ok=%v", got, ok)
	}
}
