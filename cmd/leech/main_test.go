package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagParsingRequiresOutputDirAndTorrentFile(t *testing.T) {
	_, err := app.Parse([]string{"movie.torrent"})
	require.Error(t, err, "output-dir is required")

	_, err = app.Parse([]string{"-d", "/tmp/out", "movie.torrent"})
	require.NoError(t, err)
	assert.Equal(t, "movie.torrent", *torrentFile)
	assert.Equal(t, "/tmp/out", *outputDir)
	assert.Equal(t, "info", *logLevel)
	assert.Equal(t, "plain", *uiKind)
}

func TestFlagParsingRejectsUnknownUIKind(t *testing.T) {
	_, err := app.Parse([]string{"-d", "/tmp/out", "--ui=fancy", "movie.torrent"})
	require.Error(t, err)
}
