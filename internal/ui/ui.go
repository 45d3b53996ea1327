// Package ui renders a progress.Snapshot and the torrentlog ring to the
// terminal. It is a thin external collaborator: it never touches
// download logic, only formats what it's given.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/torrentleech/leech/internal/progress"
)

// Kind selects which renderer New wires up.
type Kind string

// Recognized --ui values.
const (
	Plain Kind = "plain"
	Bar   Kind = "bar"
)

// Renderer consumes progress snapshots and produces terminal output.
type Renderer interface {
	Update(progress.Snapshot)
	Finish(progress.Snapshot)
}

// New builds the renderer selected by kind, writing to w.
func New(kind Kind, w io.Writer) Renderer {
	if kind == Bar {
		return newBarRenderer(w)
	}
	return &plainRenderer{w: w}
}

// plainRenderer prints one colorized status line per Update call, for
// non-interactive terminals or piped output.
type plainRenderer struct {
	w io.Writer
}

func (r *plainRenderer) Update(s progress.Snapshot) {
	line := colorstring.Color(fmt.Sprintf(
		"[yellow]%s[reset] %s [green]%.1f%%[reset] (%d/%d pieces, %d peers)\n",
		s.Name, s.Status, s.Percentage(), s.SavedPieces, s.TotalPieces, s.ConnectedPeers,
	))
	fmt.Fprint(r.w, line)
}

func (r *plainRenderer) Finish(s progress.Snapshot) {
	if s.Status == progress.Completed {
		fmt.Fprint(r.w, colorstring.Color(fmt.Sprintf("[green]%s: download complete[reset]\n", s.Name)))
		return
	}
	fmt.Fprint(r.w, colorstring.Color(fmt.Sprintf("[red]%s: %s (%s)[reset]\n", s.Name, s.Status, s.ErrorDetail)))
}

// barRenderer drives a single progressbar/v3 bar keyed to bytes downloaded.
type barRenderer struct {
	bar *progressbar.ProgressBar
}

func newBarRenderer(w io.Writer) *barRenderer {
	return &barRenderer{
		bar: progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("connecting"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
		),
	}
}

func (r *barRenderer) Update(s progress.Snapshot) {
	r.bar.ChangeMax64(s.TotalBytes)
	r.bar.Describe(fmt.Sprintf("%s %s", s.Name, s.Status))
	_ = r.bar.Set64(s.DownloadedBytes)
}

func (r *barRenderer) Finish(s progress.Snapshot) {
	r.bar.Describe(fmt.Sprintf("%s %s", s.Name, s.Status))
	_ = r.bar.Finish()
}
