package task

import "errors"

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrResultNotFound   = errors.New("result file not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrServerBusy       = errors.New("server busy")
)

func NewErrExtNotAllowed(ext string) error { return errors.New("extension not allowed: " + ext) }
