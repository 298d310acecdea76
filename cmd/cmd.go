// Package cmd is the swapbytes command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/swapbytes/config"
	"github.com/Dyastin-0/swapbytes/core"
	"github.com/Dyastin-0/swapbytes/discovery"
	"github.com/Dyastin-0/swapbytes/engine"
	"github.com/Dyastin-0/swapbytes/logger"
	"github.com/Dyastin-0/swapbytes/styles"
	"github.com/Dyastin-0/swapbytes/types"
	"github.com/Dyastin-0/swapbytes/ui"
	"github.com/charmbracelet/huh/spinner"
	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func New() *cli.Command {
	return &cli.Command{
		Name:    "swapbytes",
		Usage:   "chat and swap files with peers on your local network",
		Version: core.VERSION,
		Flags:   defaultFlags(),
		Action:  swapbytesAction,
		Commands: []*cli.Command{
			initCommand(),
		},
	}
}

func defaultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file (default ~/swapbytes/config.yaml when present)",
			Sources: cli.EnvVars("SWAPBYTES_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "nickname shown to peers",
		},
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "TCP address peers connect to",
		},
		&cli.StringFlag{
			Name:    "bAddr",
			Aliases: []string{"b"},
			Usage:   "multicast group for discovery",
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "directory files are served from",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "directory received files are saved to",
		},
		&cli.StringFlag{
			Name:    "log",
			Aliases: []string{"l"},
			Usage:   "log file",
		},
		&cli.StringFlag{
			Name:  "level",
			Usage: "log level (debug, info, warn, error)",
		},
		&cli.BoolFlag{
			Name:  "no-compress",
			Usage: "send file chunks uncompressed",
		},
	}
}

func defaultConfigPath() string {
	return filepath.Join(homeDir(), "swapbytes", "config.yaml")
}

// configPath is the file given with -c or SWAPBYTES_CONFIG, else the default
// file if it exists. "" means built-in defaults.
func configPath(cmd *cli.Command) string {
	if path := cmd.String("config"); path != "" {
		return path
	}

	path := defaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// loadConfig reads path and lays the flags that were set on top.
func loadConfig(cmd *cli.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("name") {
		cfg.Nickname = cmd.String("name")
	}
	if cmd.IsSet("addr") {
		cfg.Network.ListenAddr = cmd.String("addr")
	}
	if cmd.IsSet("bAddr") {
		cfg.Network.GroupAddr = cmd.String("bAddr")
	}
	if cmd.IsSet("dir") {
		cfg.Paths.Shared = cmd.String("dir")
	}
	if cmd.IsSet("out") {
		cfg.Paths.Downloads = cmd.String("out")
	}
	if cmd.IsSet("log") {
		cfg.Log.Path = cmd.String("log")
	}
	if cmd.IsSet("level") {
		cfg.Log.Level = cmd.String("level")
	}
	if cmd.Bool("no-compress") {
		cfg.Transfer.Compress = false
	}

	return cfg, nil
}

func initLogger(cfg *config.Config) (logger.Logger, error) {
	path := cfg.Log.Path
	if path == "" {
		var err error
		if path, err = logger.LogPath("logs"); err != nil {
			return nil, err
		}
	}

	log := logger.New()
	if cfg.Log.Console {
		log.InitMultiWriter(path)
	} else {
		log.Init(path)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return log, nil
}

func swapbytesAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, configPath(cmd))
	if err != nil {
		return err
	}

	if cfg.Nickname == "" {
		if cfg.Nickname, err = ui.PromptNickname(hostname()); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{cfg.Paths.Shared, cfg.Paths.Downloads} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	log, err := initLogger(cfg)
	if err != nil {
		return err
	}

	figure.NewFigure("swapbytes", "", true).Print()
	fmt.Println()

	self := types.PeerID(uuid.NewString())

	eng := engine.New(engine.Options{
		SelfID:        self,
		Nickname:      cfg.Nickname,
		SharedDir:     cfg.Paths.Shared,
		DownloadDir:   cfg.Paths.Downloads,
		ChunkSize:     cfg.Transfer.ChunkSize,
		ReorderWindow: cfg.Transfer.ReorderWindow,
		Compress:      cfg.Transfer.Compress,
		OutboundQueue: cfg.Network.OutboundQueue,
		Logger:        log,
	})

	disc := discovery.New(discovery.Options{
		ID:         self,
		Nickname:   cfg.Nickname,
		ListenAddr: cfg.Network.ListenAddr,
		GroupAddr:  cfg.Network.GroupAddr,
		Interval:   cfg.Network.AnnounceInterval,
		Timeout:    cfg.Network.PeerTimeout,
		TTL:        cfg.Network.TTL,
		Logger:     log,
	}, eng)

	err = spinner.New().Title(styles.INFO.Render("binding " + cfg.Network.ListenAddr + "...")).ActionWithErr(
		func(ctx context.Context) error {
			return disc.Listen(ctx)
		},
	).Run()
	if err != nil {
		return err
	}

	console := ui.New(eng, self, os.Stdin, os.Stdout, log)

	fmt.Println(styles.TITLE.Render("swapbytes"), styles.SUCCESS.Render(fmt.Sprintf("as %s on %s", cfg.Nickname, disc.Addr())))
	fmt.Println(styles.INFO.Render(fmt.Sprintf("sharing %s, saving to %s", cfg.Paths.Shared, cfg.Paths.Downloads)))
	fmt.Println(styles.INFO.Render("type /help for commands, /quit to exit"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return disc.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		return console.Run(ctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.Err(err).Error("swapbytes stopped")
	}
	return err
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write a config file with the defaults and any flags given",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, "")
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			path := cmd.String("config")
			if path == "" {
				path = defaultConfigPath()
			}
			if err := cfg.Write(path); err != nil {
				return err
			}

			fmt.Println(styles.SUCCESS.Render("wrote " + path))
			return nil
		},
	}
}

func homeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "./"
	}

	return homeDir
}

func hostname() string {
	hn, err := os.Hostname()
	if err != nil {
		return ""
	}
	return hn
}
