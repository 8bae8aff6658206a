package form

import (
	"regexp"
	"strings"
)

// AllowedExtensions lists the workbook formats the service accepts.
var AllowedExtensions = []string{"xlsx", "xlsm"}

var cellPattern = regexp.MustCompile(`^[A-Za-z]+[1-9][0-9]*$`)

const (
	MsgSourceMissing       = "A source file must be uploaded."
	MsgSourceFormat        = "Unsupported source file format. Only .xlsx, .xlsm are allowed."
	MsgSourceCellMissing   = "A starting cell must be given for the source file."
	MsgSourceCellFormat    = "Invalid starting cell for the source file (example: A1)."
	MsgTemplateMissing     = "A template file must be uploaded when no saved template is selected."
	MsgTemplateFormat      = "Unsupported template file format. Only .xlsx, .xlsm are allowed."
	MsgTemplateCellMissing = "A starting cell must be given for the template file."
	MsgTemplateCellFormat  = "Invalid starting cell for the template file (example: A1)."
)

// Result holds the messages of one validation pass. Empty means the request may be submitted.
type Result []string

// OK reports whether no rule was violated.
func (r Result) OK() bool { return len(r) == 0 }

// Validate checks every rule independently and reports each violation once.
func Validate(req UploadRequest) Result {
	errs := make(Result, 0)

	if req.SourceFile == nil || req.SourceFile.Name == "" {
		errs = append(errs, MsgSourceMissing)
	} else if !AllowedFile(req.SourceFile.Name) {
		errs = append(errs, MsgSourceFormat)
	}

	switch {
	case req.SourceStartCell == "":
		errs = append(errs, MsgSourceCellMissing)
	case !ValidCell(req.SourceStartCell):
		errs = append(errs, MsgSourceCellFormat)
	}

	if req.UsesSavedTemplate() {
		return errs
	}

	if req.TemplateFile == nil || req.TemplateFile.Name == "" {
		errs = append(errs, MsgTemplateMissing)
	} else if !AllowedFile(req.TemplateFile.Name) {
		errs = append(errs, MsgTemplateFormat)
	}

	switch {
	case req.TemplateStartCell == "":
		errs = append(errs, MsgTemplateCellMissing)
	case !ValidCell(req.TemplateStartCell):
		errs = append(errs, MsgTemplateCellFormat)
	}

	return errs
}

// ValidCell reports whether s is a cell reference such as A1 or bc12.
func ValidCell(s string) bool {
	return cellPattern.MatchString(s)
}

// AllowedFile checks the extension after the last dot, case-insensitively.
func AllowedFile(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(name[idx+1:])
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
