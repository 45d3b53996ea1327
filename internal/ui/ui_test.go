package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/torrentleech/leech/internal/progress"
)

func TestPlainRendererUpdatePrintsPercentage(t *testing.T) {
	var buf bytes.Buffer
	r := New(Plain, &buf)
	r.Update(progress.Snapshot{
		Name:            "movie.mkv",
		Status:          progress.Downloading,
		TotalBytes:      100,
		DownloadedBytes: 50,
		TotalPieces:     4,
		SavedPieces:     2,
		ConnectedPeers:  3,
	})
	assert.Contains(t, buf.String(), "movie.mkv")
	assert.Contains(t, buf.String(), "50.0%")
}

func TestPlainRendererFinishDistinguishesOutcome(t *testing.T) {
	var buf bytes.Buffer
	r := New(Plain, &buf)
	r.Finish(progress.Snapshot{Name: "movie.mkv", Status: progress.Completed})
	assert.True(t, strings.Contains(buf.String(), "download complete"))

	buf.Reset()
	r.Finish(progress.Snapshot{Name: "movie.mkv", Status: progress.Error, ErrorDetail: "boom"})
	assert.True(t, strings.Contains(buf.String(), "boom"))
}

func TestNewBarRendererDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	r := New(Bar, &buf)
	r.Update(progress.Snapshot{TotalBytes: 100, DownloadedBytes: 10})
	r.Finish(progress.Snapshot{Status: progress.Completed})
}
