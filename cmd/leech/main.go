// Command leech downloads a single torrent to a local directory.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torrentleech/leech/internal/client"
	"github.com/torrentleech/leech/internal/metainfo"
	"github.com/torrentleech/leech/internal/torrentlog"
	"github.com/torrentleech/leech/internal/ui"
)

const uiRefreshInterval = 250 * time.Millisecond

const peerIDPrefix = "-LE0001-"

var (
	app = kingpin.New("leech", "A single-torrent BitTorrent leech client.")

	torrentFile = app.Arg("torrent-file", "Path to the .torrent file").Required().String()
	outputDir   = app.Flag("output-dir", "Directory to write the downloaded files into").Short('d').Required().String()
	logLevel    = app.Flag("log-level", "Zap log level: debug, info, warn, error").Default("info").String()
	uiKind      = app.Flag("ui", "Terminal UI: plain or bar").Default("plain").Enum("plain", "bar")
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := zapcore.InfoLevel
	if err := level.Set(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "leech: invalid --log-level %q: %s\n", *logLevel, err)
		os.Exit(1)
	}

	ring := torrentlog.NewRing()
	log := torrentlog.New(level, ring)
	defer log.Sync()

	if err := run(log); err != nil {
		log.Error("fatal", zap.Error(err))
		fmt.Fprintf(os.Stderr, "leech: %s\n", err)
		os.Exit(1)
	}
}

func run(log *zap.Logger) error {
	meta, err := metainfo.Load(*torrentFile)
	if err != nil {
		return fmt.Errorf("load torrent: %w", err)
	}

	peerID := client.NewPeerID(peerIDPrefix)
	c := client.New(meta, peerID, *outputDir, log)

	renderer := ui.New(ui.Kind(*uiKind), os.Stdout)
	done := make(chan struct{})
	go watchProgress(c, renderer, done)

	err = c.Run()
	close(done)

	renderer.Finish(c.Progress().Snapshot())
	return err
}

// watchProgress polls the publisher at the UI's refresh cadence until done
// is closed, forwarding each snapshot to renderer.
func watchProgress(c *client.Client, renderer ui.Renderer, done <-chan struct{}) {
	ticker := time.NewTicker(uiRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			renderer.Update(c.Progress().Snapshot())
		case <-done:
			return
		}
	}
}
