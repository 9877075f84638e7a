package cmd

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/Dyastin-0/teleport"
	"github.com/Dyastin-0/teleport/core"
	"github.com/Dyastin-0/teleport/discovery"
	"github.com/Dyastin-0/teleport/logger"
	"github.com/Dyastin-0/teleport/progress"
	"github.com/Dyastin-0/teleport/styles"
	"github.com/Dyastin-0/teleport/transport"
	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "receive",
		Usage: "receive files until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "where verified files are written",
				Value:   defaultOutputDir(),
				Sources: cli.EnvVars("TELEPORT_DIR"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "local port",
				Value:   teleport.ServerPort,
				Sources: cli.EnvVars("TELEPORT_RECEIVE_PORT"),
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "create the output directory without asking",
			},
			&cli.StringFlag{
				Name:    "max-size",
				Usage:   "ignore offers of files larger than this, e.g. 2GiB",
				Sources: cli.EnvVars("TELEPORT_MAX_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "hidden",
				Usage:   "do not announce this receiver on the local network",
				Sources: cli.EnvVars("TELEPORT_HIDDEN"),
			},
		},
		Action: receiveAction,
	}
}

func receiveAction(ctx context.Context, cmd *cli.Command) error {
	cfg := config(cmd)
	cfg.ServerPort = int(cmd.Int("port"))
	cfg.OutputDir = cmd.String("dir")

	if err := ensureDir(cfg.OutputDir, cmd.Bool("yes"), confirmCreate); err != nil {
		return err
	}

	log, err := newLogger(cmd, "receive")
	if err != nil {
		return err
	}

	maxSize, err := parseMaxSize(cmd.String("max-size"))
	if err != nil {
		return err
	}

	r := core.NewReceiver(log)
	r.MaxFileSize = maxSize
	r.OnSaved = func(path string, m core.FileMetadata) {
		fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("saved %s (%s, crc 0x%08X)",
			path, humanize.IBytes(uint64(m.FileSize)), m.CRC32)))
	}
	r.OnVerifyFailed = func(m core.FileMetadata, computed uint32) {
		fmt.Println(verifyFailedLine(m, computed))
	}
	if err := r.Initialize(cfg.OutputDir); err != nil {
		return err
	}

	conn := transport.New(cfg.ProtocolID, cfg.Timeout, log)
	if err := conn.Start(cfg.ServerPort); err != nil {
		return err
	}
	defer conn.Close()

	conn.OnConnect = func(peer *net.UDPAddr) {
		fmt.Println(styles.INFO.Render("sender connected from " + peer.String()))
	}
	conn.OnDisconnect = func() {
		fmt.Println(styles.WARNING.Render("sender gone"))
	}
	conn.Listen()

	if !cmd.Bool("hidden") {
		go announce(ctx, int(cmd.Int("discovery-port")), cfg, log)
	}

	d := teleport.NewReceiveDriver(cfg, conn, r, log)

	p := progress.New()
	d.OnProgress = p.Track(func() string { return r.Metadata().FileName })

	fmt.Println(styles.TITLE.Render(fmt.Sprintf("listening on :%d, saving to %s", cfg.ServerPort, cfg.OutputDir)))

	_, err = d.Run(ctx)
	p.Wait()
	return err
}

// ensureDir makes sure dir exists, asking confirm before creating it unless
// yes is set.
func ensureDir(dir string, yes bool, confirm func(dir string) (bool, error)) error {
	stat, err := os.Stat(dir)
	if err == nil {
		if !stat.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return err
	}

	if !yes {
		ok, err := confirm(dir)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCanceled
		}
	}

	return os.MkdirAll(dir, 0755)
}

func confirmCreate(dir string) (bool, error) {
	var ok bool

	form := huh.NewConfirm().
		Title(fmt.Sprintf("%s does not exist, create it?", dir)).
		Affirmative("Create").
		Negative("Cancel").
		Value(&ok)

	if err := form.Run(); err != nil {
		return false, err
	}

	return ok, nil
}

func announce(ctx context.Context, discoveryPort int, cfg teleport.Config, log logger.Logger) {
	a, err := discovery.NewAnnouncer(discoveryPort, discovery.NewAnnouncement(cfg.ServerPort, cfg.ProtocolID, core.VERSION), log)
	if err == nil {
		err = a.Run(ctx)
	}

	if err != nil && ctx.Err() == nil {
		log.WithStr("err", err.Error()).Warn("announcing stopped")
	}
}

func verifyFailedLine(m core.FileMetadata, computed uint32) string {
	return styles.WARNING.Render(fmt.Sprintf("%s failed verification (claimed crc 0x%08X, computed 0x%08X), retrying",
		m.FileName, m.CRC32, computed))
}

// parseMaxSize reads a human size such as "2GiB". Empty means no limit.
func parseMaxSize(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max size %s: %w", s, err)
	}

	if n > core.MaxFileSize {
		return 0, fmt.Errorf("max size %s exceeds %s", s, humanize.IBytes(core.MaxFileSize))
	}

	return uint32(n), nil
}
