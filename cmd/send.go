package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Dyastin-0/teleport"
	"github.com/Dyastin-0/teleport/core"
	"github.com/Dyastin-0/teleport/discovery"
	"github.com/Dyastin-0/teleport/logger"
	"github.com/Dyastin-0/teleport/progress"
	"github.com/Dyastin-0/teleport/styles"
	"github.com/Dyastin-0/teleport/transport"
	"github.com/charmbracelet/huh/spinner"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a file, picked interactively when none is given",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "to",
				Aliases: []string{"t"},
				Usage:   "receiver address, discovered on the local network when empty",
				Sources: cli.EnvVars("TELEPORT_TO"),
			},
			&cli.DurationFlag{
				Name:  "scan",
				Usage: "how long to look for receivers",
				Value: 3 * time.Second,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "local port",
				Value:   teleport.ClientPort,
				Sources: cli.EnvVars("TELEPORT_SEND_PORT"),
			},
		},
		Action: sendAction,
	}
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		f := NewFileSelector("./")
		if err := f.RunRecur(); err != nil {
			return err
		}
		path = f.Selected()
	}

	cfg := config(cmd)
	cfg.ClientPort = int(cmd.Int("port"))

	log, err := newLogger(cmd, "send")
	if err != nil {
		return err
	}

	addr, err := findReceiver(ctx, cmd, cfg.ProtocolID, log)
	if err != nil {
		return err
	}

	s := core.NewSender(log)
	s.Loader = progress.Loader(progress.DefaultBar)
	if err := s.Initialize(path); err != nil {
		return err
	}

	m := s.Metadata()
	fmt.Println(styles.Fields(
		"file", m.FileName,
		"size", humanize.IBytes(uint64(m.FileSize)),
		"chunks", fmt.Sprint(m.TotalChunks),
		"crc", fmt.Sprintf("0x%08X", m.CRC32),
	))

	conn := transport.New(cfg.ProtocolID, cfg.Timeout, log)
	if err := conn.Start(cfg.ClientPort); err != nil {
		return err
	}
	defer conn.Close()

	conn.Connect(addr)

	d := teleport.NewSendDriver(cfg, conn, s, log)

	err = spinner.New().
		Title(fmt.Sprintf(" waiting for %s", addr)).
		Context(ctx).
		ActionWithErr(d.WaitConnected).
		Run()
	if err != nil {
		return err
	}

	p := progress.New()
	d.OnProgress = p.Track(func() string { return m.FileName })

	summary, err := d.Run(ctx)
	p.Wait()
	if err != nil {
		return err
	}

	fmt.Println(styles.SUCCESS.Render(fmt.Sprintf("sent %s in %s, %.2f Mbps",
		m.FileName, summary.Elapsed.Round(10*time.Millisecond), summary.Mbps)))

	return nil
}

// findReceiver resolves --to, or browses the local network and lets the user
// pick a receiver.
func findReceiver(ctx context.Context, cmd *cli.Command, protocol uint32, log logger.Logger) (*net.UDPAddr, error) {
	if to := cmd.String("to"); to != "" {
		addr, err := net.ResolveUDPAddr("udp", to)
		if err != nil {
			return nil, fmt.Errorf("invalid receiver address %s: %w", to, err)
		}
		return addr, nil
	}

	b := discovery.NewBrowser(fmt.Sprintf(":%d", cmd.Int("discovery-port")), protocol, log)
	if err := b.Listen(); err != nil {
		return nil, fmt.Errorf("failed to browse for receivers: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go b.Serve(ctx)

	scan := cmd.Duration("scan")
	err := spinner.New().
		Title(" looking for receivers").
		Context(ctx).
		Action(func() {
			select {
			case <-time.After(scan):
			case <-ctx.Done():
			}
		}).
		Run()
	if err != nil {
		return nil, err
	}

	if len(b.Peers()) == 0 {
		return nil, ErrNoReceivers
	}

	p := NewPeerSelector(b.Peers)
	if err := p.RunRecur(); err != nil {
		return nil, err
	}

	return p.Selected().Addr, nil
}
