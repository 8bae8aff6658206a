package form

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Post-processing functions understood by the processing service.
const (
	PostNone            = "none"
	PostCoordsToAddress = "coords_to_address"
	PostAddressToCoords = "address_to_coords"
)

// File is a named binary blob attached to a request.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileFromPath references a file on disk; it is opened lazily at submission.
func FileFromPath(path string) *File {
	return &File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) //nolint:gosec // user selected file
		},
	}
}

// FileFromBytes wraps in-memory content.
func FileFromBytes(name string, data []byte) *File {
	return &File{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Rule maps a source column onto a template column.
type Rule struct {
	SourceColumn   string `json:"s_col"`
	TemplateColumn string `json:"t_col"`
}

// UploadRequest is built fresh for every submit attempt.
// Without SavedTemplate both TemplateFile and TemplateStartCell are required.
type UploadRequest struct {
	SourceFile        *File
	SourceStartCell   string
	SavedTemplate     string
	TemplateFile      *File
	TemplateStartCell string
	Rules             []Rule
	PostProcessing    string
}

// UsesSavedTemplate reports whether a stored template was selected.
func (r UploadRequest) UsesSavedTemplate() bool {
	return r.SavedTemplate != ""
}
