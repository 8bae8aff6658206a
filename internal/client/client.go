// Package client talks to the processing service: it submits upload
// requests, reads task status snapshots and fetches finished results.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "sheetmap/internal/file"
	"sheetmap/internal/form"
	"sheetmap/internal/task"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 4 << 10
)

// Multipart field names expected by POST /process.
const (
	FieldSourceFile        = "source_file"
	FieldSourceStartCell   = "source_range_start"
	FieldSavedTemplate     = "saved_template"
	FieldTemplateFile      = "template_file"
	FieldTemplateStartCell = "template_range_start"
	FieldRuleSource        = "manual_source_col"
	FieldRuleTemplate      = "manual_template_col"
	FieldPostProcessing    = "post_processing_function"
)

var (
	errMalformedResponse = errors.New("response carries neither task_id nor error")
	errNoFileContent     = errors.New("file has no content source")
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. with httptest's.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// New returns a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Submit sends one multipart POST /process. It never retries; each call
// creates a new server-side task.
func (c *Client) Submit(ctx context.Context, req form.UploadRequest) (task.Handle, error) {
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return task.Handle{}, &SubmissionError{Message: "prepare upload", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", body)
	if err != nil {
		return task.Handle{}, &SubmissionError{Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return task.Handle{}, &SubmissionError{Message: "network error", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return task.Handle{}, &SubmissionError{
			Message: "network error",
			Err:     fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err),
		}
	}
	switch {
	case decoded.Error != "":
		log.Warn().Int("status", resp.StatusCode).Str("error", decoded.Error).Msg("submission rejected")
		return task.Handle{}, &SubmissionError{Message: decoded.Error, Server: true}
	case decoded.TaskID != "":
		log.Debug().Str("task_id", decoded.TaskID).Msg("task submitted")
		return task.Handle{ID: decoded.TaskID}, nil
	default:
		return task.Handle{}, &SubmissionError{
			Message: "network error",
			Err:     fmt.Errorf("HTTP %d: %w", resp.StatusCode, errMalformedResponse),
		}
	}
}

// Status reads the current snapshot of a task. Missing fields keep their zero value.
func (c *Client) Status(ctx context.Context, taskID string) (task.Status, error) {
	endpoint := c.baseURL + "/status/" + url.PathEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return task.Status{}, &PollingError{TaskID: taskID, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return task.Status{}, &PollingError{TaskID: taskID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return task.Status{}, &PollingError{TaskID: taskID, Err: httpError(resp)}
	}

	var status task.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return task.Status{}, &PollingError{TaskID: taskID, Err: fmt.Errorf("decode status: %w", err)}
	}
	return status, nil
}

// Templates lists the templates stored on the server.
func (c *Client) Templates(ctx context.Context) ([]task.TemplateInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/templates", nil)
	if err != nil {
		return nil, fmt.Errorf("build templates request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list templates: %w", httpError(resp))
	}

	var out []task.TemplateInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	return out, nil
}

// DownloadURL is where a finished result can be retrieved.
func (c *Client) DownloadURL(resultFile string) string {
	return c.baseURL + "/download/" + url.PathEscape(resultFile)
}

// Download fetches rawURL (as returned by DownloadURL) into destDir and
// returns the written path.
func (c *Client) Download(ctx context.Context, rawURL, destDir string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse download url: %w", err)
	}
	name := filepath.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("download url %q has no file name", rawURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %w", name, httpError(resp))
	}

	destPath := filepath.Join(destDir, name)
	if err := fileutil.CopyAtomic(destPath, resp.Body); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	log.Info().Str("path", destPath).Msg("result downloaded")
	return destPath, nil
}

func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}

func encodeRequest(req form.UploadRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := writeFile(mw, FieldSourceFile, req.SourceFile); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{FieldSourceStartCell, strings.ToUpper(req.SourceStartCell)},
		{FieldSavedTemplate, req.SavedTemplate},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", f[0], err)
		}
	}
	if !req.UsesSavedTemplate() {
		if err := writeFile(mw, FieldTemplateFile, req.TemplateFile); err != nil {
			return nil, "", err
		}
		if err := mw.WriteField(FieldTemplateStartCell, strings.ToUpper(req.TemplateStartCell)); err != nil {
			return nil, "", fmt.Errorf("write %s: %w", FieldTemplateStartCell, err)
		}
	}
	for _, rule := range req.Rules {
		if err := mw.WriteField(FieldRuleSource, rule.SourceColumn); err != nil {
			return nil, "", fmt.Errorf("write rule: %w", err)
		}
		if err := mw.WriteField(FieldRuleTemplate, rule.TemplateColumn); err != nil {
			return nil, "", fmt.Errorf("write rule: %w", err)
		}
	}
	post := req.PostProcessing
	if post == "" {
		post = form.PostNone
	}
	if err := mw.WriteField(FieldPostProcessing, post); err != nil {
		return nil, "", fmt.Errorf("write %s: %w", FieldPostProcessing, err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func writeFile(mw *multipart.Writer, field string, f *form.File) error {
	if f == nil {
		return nil
	}
	if f.Open == nil {
		return fmt.Errorf("%s %q: %w", field, f.Name, errNoFileContent)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	part, err := mw.CreateFormFile(field, f.Name)
	if err != nil {
		return fmt.Errorf("create part %s: %w", field, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", f.Name, err)
	}
	return nil
}
