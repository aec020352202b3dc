package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/swarmget/swarmget/internal/jsonutil"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/task"
	"github.com/swarmget/swarmget/torrent"
)

var log = logger.New("swarmget")

func main() {
	app := cli.NewApp()
	app.Name = "swarmget"
	app.Usage = "download files from peer swarms"
	app.Version = torrent.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.swarmget/config.yaml",
		},
		cli.StringSliceFlag{
			Name:  "set",
			Usage: "override a config value, e.g. --set max-peers=100",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug log",
		},
	}
	app.Before = func(c *cli.Context) error {
		logger.SetDebug(c.GlobalBool("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download torrents and exit when they are completed",
			ArgsUsage: "<torrent file or magnet link>...",
			Action:    handleDownload,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "data-dir, d",
					Usage: "download files under `DIR`",
				},
				cli.StringFlag{
					Name:  "download-limit",
					Usage: "global download speed limit per second, e.g. 2MB",
				},
				cli.StringFlag{
					Name:  "upload-limit",
					Usage: "global upload speed limit per second, e.g. 512KB",
				},
				cli.BoolFlag{
					Name:  "seed",
					Usage: "keep uploading after download completes, until interrupted",
				},
			},
		},
		{
			Name:   "list",
			Usage:  "list torrents in the resume database",
			Action: handleList,
		},
		{
			Name:      "info",
			Usage:     "print information in a torrent file",
			ArgsUsage: "<torrent file>",
			Action:    handleInfo,
		},
		{
			Name:   "config",
			Usage:  "print effective config",
			Action: handleConfig,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func handleDownload(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("give a torrent file or a magnet link as argument", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if s := c.String("download-limit"); s != "" {
		if cfg.SpeedLimitDownload, err = parseSpeed(s); err != nil {
			return err
		}
	}
	if s := c.String("upload-limit"); s != "" {
		if cfg.SpeedLimitUpload, err = parseSpeed(s); err != nil {
			return err
		}
	}
	seed := c.Bool("seed")
	cfg.Seed = seed
	cfg.NotifyOnComplete = true

	ses, err := torrent.New(*cfg)
	if err != nil {
		return err
	}
	defer ses.Close()

	remaining := make(map[string]*torrent.Torrent)
	for _, arg := range c.Args() {
		t, err := addTask(ses, arg)
		if err != nil {
			return fmt.Errorf("cannot add %s: %w", arg, err)
		}
		if err = ses.Start(t.ID()); err != nil {
			return err
		}
		remaining[t.ID()] = t
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigC)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var failed bool
	for len(remaining) > 0 {
		select {
		case n := <-ses.Notifications():
			switch n.Event {
			case torrent.Failed:
				log.Errorf("%s failed: %s", n.Name, n.Error)
				failed = true
				delete(remaining, n.TaskID)
			case torrent.Completed:
				log.Infof("%s completed", n.Name)
				if !seed {
					delete(remaining, n.TaskID)
				}
			}
		case <-ticker.C:
			for id, t := range remaining {
				st := t.Status()
				fmt.Println(formatStatus(st))
				if st.State == task.Completed && !seed {
					delete(remaining, id)
				}
			}
		case sig := <-sigC:
			log.Infof("received %s, exiting", sig)
			return nil
		}
	}
	if failed {
		return cli.NewExitError("some downloads have failed", 1)
	}
	return nil
}

// addTask adds a magnet link or a torrent file. A torrent file that is already in the session is not added again.
func addTask(ses *torrent.Session, arg string) (*torrent.Torrent, error) {
	if strings.HasPrefix(arg, "magnet:") {
		return ses.AddMagnet(arg)
	}
	b, err := ioutil.ReadFile(arg) // nolint: gosec
	if err != nil {
		return nil, err
	}
	mi, err := metainfo.New(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	ih := hex.EncodeToString(mi.Info.Hash[:])
	for _, t := range ses.Tasks() {
		if t.InfoHash() == ih {
			return t, nil
		}
	}
	return ses.AddTorrent(bytes.NewReader(b))
}

func formatStatus(st task.Status) string {
	s := fmt.Sprintf("%s: %s %.1f%% (%s/%s)", st.Name, st.State, st.Completed,
		humanize.Bytes(uint64(st.BytesCompleted)), humanize.Bytes(uint64(st.BytesTotal)))
	if st.State == task.Downloading || st.State == task.Seeding {
		s += fmt.Sprintf(" peers: %d down: %s/s up: %s/s", st.Peers,
			humanize.Bytes(uint64(st.DownloadSpeed)), humanize.Bytes(uint64(st.UploadSpeed)))
	}
	if st.Error != nil {
		s += " error: " + st.Error.Error()
	}
	return s
}

func handleList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	saved, err := torrent.ListSaved(*cfg)
	if err != nil {
		return err
	}
	for i, st := range saved {
		if i > 0 {
			fmt.Println()
		}
		if err = jsonutil.WriteFields(os.Stdout, st); err != nil {
			return err
		}
	}
	return nil
}

func handleInfo(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("give a torrent file as argument", 1)
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return err
	}
	files := mi.Info.GetFiles()
	paths := make([]string, 0, len(files))
	for _, fd := range files {
		paths = append(paths, fmt.Sprintf("%s (%s)", strings.Join(fd.Path, "/"), humanize.Bytes(uint64(fd.Length))))
	}
	out := struct {
		Name        string
		InfoHash    string
		TotalLength string
		PieceLength uint32
		NumPieces   uint32
		Trackers    [][]string
		Files       []string
	}{
		Name:        mi.Info.Name,
		InfoHash:    hex.EncodeToString(mi.Info.Hash[:]),
		TotalLength: humanize.Bytes(uint64(mi.Info.TotalLength)),
		PieceLength: mi.Info.PieceLength,
		NumPieces:   mi.Info.NumPieces,
		Trackers:    mi.AnnounceList,
		Files:       paths,
	}
	return jsonutil.WriteFields(os.Stdout, out)
}

func handleConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Sanitize()
	return jsonutil.WriteFields(os.Stdout, cfg)
}
