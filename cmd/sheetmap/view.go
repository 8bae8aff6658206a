package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"sheetmap/internal/progress"
)

type downloader interface {
	Download(ctx context.Context, rawURL, destDir string) (string, error)
}

// terminalView renders the upload form state on a terminal. On a TTY the
// progress line is redrawn in place; otherwise each change is a new line.
type terminalView struct {
	ctx         context.Context
	out         io.Writer
	bar         progress.Bar
	tty         bool
	fetch       downloader
	downloadDir string

	mu          sync.Mutex
	lastLine    string
	lineWidth   int
	savedPath   string
	downloadErr error
}

func newTerminalView(ctx context.Context, out io.Writer, fetch downloader, downloadDir string) *terminalView {
	tty := shouldColorize(out)
	return &terminalView{
		ctx:         ctx,
		out:         out,
		bar:         progress.Bar{Colorize: tty},
		tty:         tty,
		fetch:       fetch,
		downloadDir: downloadDir,
	}
}

func (v *terminalView) ShowErrors(messages []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakLine()
	fmt.Fprintln(v.out, "The request is incomplete:")
	for _, msg := range messages {
		fmt.Fprintf(v.out, "  - %s\n", msg)
	}
}

func (v *terminalView) ClearErrors() {}

func (v *terminalView) SetSubmitEnabled(bool) {}

func (v *terminalView) RenderProgress(s progress.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	line := v.bar.Render(s)
	if line == v.lastLine {
		return
	}
	v.lastLine = line
	if !v.tty {
		fmt.Fprintln(v.out, line)
		return
	}
	pad := ""
	if n := len([]rune(line)); n < v.lineWidth {
		pad = strings.Repeat(" ", v.lineWidth-n)
	}
	fmt.Fprintf(v.out, "\r%s%s", line, pad)
	v.lineWidth = len([]rune(line))
}

// Navigate downloads the result into the download directory.
func (v *terminalView) Navigate(url string) {
	path, err := v.fetch.Download(v.ctx, url, v.downloadDir)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakLine()
	if err != nil {
		v.downloadErr = err
		fmt.Fprintf(v.out, "Download failed: %v\n", err)
		return
	}
	v.savedPath = path
	fmt.Fprintf(v.out, "Result saved to %s\n", path)
}

// finish ends an in-place progress line.
func (v *terminalView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakLine()
}

func (v *terminalView) result() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.savedPath, v.downloadErr
}

func (v *terminalView) breakLine() {
	if v.tty && v.lineWidth > 0 {
		fmt.Fprintln(v.out)
		v.lineWidth = 0
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
