package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"sheetmap/internal/client"
	"sheetmap/internal/form"
	"sheetmap/internal/jobs"
	"sheetmap/internal/task"
)

// Multipart fields of POST /templates.
const (
	fieldTemplateName = "template_name"
	fieldHeaderCell   = "header_start_cell"
	fieldExcelFile    = "excel_file"
)

type API struct {
	jobs *jobs.Manager
}

func NewAPI(manager *jobs.Manager) *API {
	return &API{jobs: manager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.POST("/process", a.Process)
	router.GET("/status/:id", a.Status)
	router.GET("/download/:file", a.Download)
	router.GET("/templates", a.ListTemplates)
	router.POST("/templates", a.CreateTemplate)
}

// Process accepts an upload and starts a processing job.
func (a *API) Process(c *gin.Context) {
	if a.jobs.IsBusy() {
		log.Warn().Msg("rejecting upload: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": task.ErrServerBusy.Error()})
		return
	}

	upload, err := a.bindProcessRequest(c)
	if err != nil {
		if errors.Is(err, task.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Warn().Err(err).Msg("invalid upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := upload.req
	saved, err := a.saveUploads(&req, upload.source, upload.template)
	if err != nil {
		log.Warn().Err(err).Msg("failed to store upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := a.jobs.Submit(req)
	if err != nil {
		discardUploads(saved)
		if errors.Is(err, task.ErrServerBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("failed to start job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("task_id", job.ID).Str("template_id", req.TemplateID).Int("rules", len(req.Rules)).Msg("job created")
	c.JSON(http.StatusOK, task.Handle{ID: job.ID})
}

// processUpload is a validated /process form whose files are not yet on disk.
type processUpload struct {
	req      jobs.Request
	source   *multipart.FileHeader
	template *multipart.FileHeader
}

func (a *API) bindProcessRequest(c *gin.Context) (processUpload, error) {
	var up processUpload

	source, err := c.FormFile(client.FieldSourceFile)
	if err != nil {
		return up, errors.New("source file is missing")
	}
	if err := a.jobs.CheckExtension(source.Filename); err != nil {
		return up, err //nolint:wrapcheck
	}
	up.source = source
	up.req.SourceStartCell = strings.ToUpper(strings.TrimSpace(c.PostForm(client.FieldSourceStartCell)))
	if !form.ValidCell(up.req.SourceStartCell) {
		return up, errors.New("invalid source start cell")
	}

	up.req.TemplateID = strings.TrimSpace(c.PostForm(client.FieldSavedTemplate))
	if up.req.TemplateID != "" {
		if err := a.jobs.ResolveTemplate(&up.req); err != nil {
			return up, err //nolint:wrapcheck
		}
	} else {
		tmpl, err := c.FormFile(client.FieldTemplateFile)
		if err != nil {
			return up, errors.New("template file is missing")
		}
		if err := a.jobs.CheckExtension(tmpl.Filename); err != nil {
			return up, err //nolint:wrapcheck
		}
		up.template = tmpl
		up.req.TemplateStartCell = strings.ToUpper(strings.TrimSpace(c.PostForm(client.FieldTemplateStartCell)))
		if !form.ValidCell(up.req.TemplateStartCell) {
			return up, errors.New("invalid template start cell")
		}
	}

	up.req.Rules = bindRules(c)
	up.req.PostProcessing = c.DefaultPostForm(client.FieldPostProcessing, form.PostNone)
	return up, nil
}

// saveUploads writes the uploaded workbooks into the data dir and fills in
// their paths on req. It returns the written paths; on error nothing is left
// behind.
func (a *API) saveUploads(req *jobs.Request, source, tmpl *multipart.FileHeader) ([]string, error) {
	var saved []string
	path, err := a.saveUpload(source)
	if err != nil {
		return nil, err
	}
	saved = append(saved, path)
	req.SourcePath = path

	if tmpl != nil {
		if path, err = a.saveUpload(tmpl); err != nil {
			discardUploads(saved)
			return nil, err
		}
		saved = append(saved, path)
		req.TemplatePath = path
	}
	return saved, nil
}

func (a *API) saveUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	defer func() { _ = f.Close() }()
	return a.jobs.SaveUpload(fh.Filename, f) //nolint:wrapcheck
}

func discardUploads(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("failed to remove upload")
		}
	}
}

// bindRules pairs the repeated source/template column fields, skipping
// pairs with an empty side.
func bindRules(c *gin.Context) []form.Rule {
	src := c.PostFormArray(client.FieldRuleSource)
	dst := c.PostFormArray(client.FieldRuleTemplate)
	var rules []form.Rule
	for i := 0; i < len(src) && i < len(dst); i++ {
		s := strings.ToUpper(strings.TrimSpace(src[i]))
		d := strings.ToUpper(strings.TrimSpace(dst[i]))
		if s == "" || d == "" {
			continue
		}
		rules = append(rules, form.Rule{SourceColumn: s, TemplateColumn: d})
	}
	return rules
}

// Status returns the job's progress snapshot
func (a *API) Status(c *gin.Context) {
	id := c.Param("id")
	if job, ok := a.jobs.GetJob(id); ok {
		c.JSON(http.StatusOK, job.Snapshot())
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on status")
	c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
}

// Download serves a finished result workbook
func (a *API) Download(c *gin.Context) {
	name := c.Param("file")
	path, err := a.jobs.ResultPath(name)
	if err != nil {
		log.Warn().Str("file", name).Msg("result not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("file", name).Msg("serving result download")
	c.FileAttachment(path, name)
}

// ListTemplates returns stored templates
func (a *API) ListTemplates(c *gin.Context) {
	list, err := a.jobs.Templates()
	if err != nil {
		log.Error().Err(err).Msg("failed to list templates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*jobs.Template{}
	}
	c.JSON(http.StatusOK, list)
}

// CreateTemplate stores an uploaded template workbook for reuse.
func (a *API) CreateTemplate(c *gin.Context) {
	fh, err := c.FormFile(fieldExcelFile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template file is missing"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = f.Close() }()

	tmpl, err := a.jobs.AddTemplate(c.PostForm(fieldTemplateName), c.PostForm(fieldHeaderCell), bindRules(c), fh.Filename, f)
	if err != nil {
		log.Warn().Err(err).Msg("failed to store template")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}
