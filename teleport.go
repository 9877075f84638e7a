// Package teleport moves one file at a time between two peers over UDP. The
// Driver ticks a core session against a transport, pacing sends with a flow
// controller.
package teleport

import (
	"errors"
	"time"

	"github.com/Dyastin-0/teleport/transport"
)

const (
	ProtocolID    = 0x11223344
	ServerPort    = 30000
	ClientPort    = 30001
	TickRate      = time.Second / 30
	Timeout       = 10 * time.Second
	StatsInterval = 250 * time.Millisecond
)

var (
	ErrConnectFailed  = errors.New("failed to connect")
	ErrConnectionLost = errors.New("connection lost")
)

// Config is everything a driver needs that is not the session itself.
type Config struct {
	ProtocolID    uint32
	ServerPort    int
	ClientPort    int
	TickRate      time.Duration
	Timeout       time.Duration
	StatsInterval time.Duration

	// OutputDir is where a receiver writes verified files.
	OutputDir string
	// LogPath is the rotating log file. Empty means the logger default.
	LogPath string
}

func DefaultConfig() Config {
	return Config{
		ProtocolID:    ProtocolID,
		ServerPort:    ServerPort,
		ClientPort:    ClientPort,
		TickRate:      TickRate,
		Timeout:       Timeout,
		StatsInterval: StatsInterval,
		OutputDir:     ".",
	}
}

// Transport is the datagram link a driver runs over. transport.Conn is the
// UDP implementation.
type Transport interface {
	Send(payload []byte) error
	TryReceive(buf []byte) (int, bool)
	Update(dt time.Duration)

	IsConnected() bool
	ConnectFailed() bool
	RoundTripTime() time.Duration
	Stats() transport.Stats
}

var _ Transport = (*transport.Conn)(nil)
