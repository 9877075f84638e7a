// Package cmd is the teleport command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/teleport"
	"github.com/Dyastin-0/teleport/core"
	"github.com/Dyastin-0/teleport/discovery"
	"github.com/Dyastin-0/teleport/logger"
	"github.com/Dyastin-0/teleport/styles"
	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v3"
)

const defaultDir = "teleport/received"

func New() *cli.Command {
	return &cli.Command{
		Name:    "teleport",
		Usage:   "send one file at a time over UDP, verified end to end",
		Version: core.VERSION,
		Action:  teleportAction,
		Flags:   defaultFlags(),
		Commands: []*cli.Command{
			sendCommand(),
			receiveCommand(),
		},
	}
}

func teleportAction(ctx context.Context, cmd *cli.Command) error {
	figure := figure.NewFigure("teleport", "", true)
	figure.Print()

	fmt.Println()

	return cli.ShowAppHelp(cmd)
}

func defaultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log",
			Usage:   "log file, defaults to ~/teleport/<command>/teleport.log",
			Sources: cli.EnvVars("TELEPORT_LOG"),
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "also log to the console",
			Sources: cli.EnvVars("TELEPORT_VERBOSE"),
		},
		&cli.UintFlag{
			Name:    "protocol",
			Usage:   "protocol id, both peers must agree",
			Value:   teleport.ProtocolID,
			Sources: cli.EnvVars("TELEPORT_PROTOCOL"),
		},
		&cli.IntFlag{
			Name:    "discovery-port",
			Usage:   "port receivers announce themselves on",
			Value:   discovery.Port,
			Sources: cli.EnvVars("TELEPORT_DISCOVERY_PORT"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "drop the peer after this long without a packet",
			Value:   teleport.Timeout,
			Sources: cli.EnvVars("TELEPORT_TIMEOUT"),
		},
	}
}

// config maps the shared flags onto teleport.Config.
func config(cmd *cli.Command) teleport.Config {
	cfg := teleport.DefaultConfig()
	cfg.ProtocolID = uint32(cmd.Uint("protocol"))
	cfg.Timeout = cmd.Duration("timeout")
	cfg.LogPath = cmd.String("log")
	return cfg
}

func newLogger(cmd *cli.Command, name string) (logger.Logger, error) {
	path := cmd.String("log")
	if path == "" {
		var err error
		path, err = logger.LogPath(name)
		if err != nil {
			return nil, err
		}
	}

	log := logger.New()
	if cmd.Bool("verbose") {
		log.InitMultiWriter(path)
	} else {
		log.Init(path)
	}

	return log, nil
}

// PrintError renders err for the terminal. A canceled prompt is a warning.
func PrintError(w io.Writer, err error) {
	if errors.Is(err, ErrCanceled) {
		fmt.Fprintln(w, styles.WARNING.Render(err.Error()))
		return
	}

	fmt.Fprintln(w, styles.ERROR.Render(err.Error()))
}

func homeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "./"
	}

	return homeDir
}

func defaultOutputDir() string {
	return filepath.Join(homeDir(), defaultDir)
}
