package core

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const tick = time.Second / 30

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// deliver hands one envelope to a session and runs a tick.
func deliver(s Session, e Envelope) {
	s.ProcessInboundPacket(e.Bytes())
	s.Update(tick)
}

// outbound returns what the session would send right now.
func outbound(t *testing.T, s Session) (Envelope, bool) {
	t.Helper()

	packet := make([]byte, PacketSize)
	if !s.LoadOutboundPacket(packet) {
		return Envelope{}, false
	}
	return Decode(packet), true
}

// exchange runs both sessions against each other over a lossless link until
// the sender closes or budget ticks pass. It returns the ticks used.
func exchange(s *Sender, r *Receiver, budget int) int {
	packet := make([]byte, PacketSize)

	for i := range budget {
		if s.State() == StateClosed {
			return i
		}

		if s.LoadOutboundPacket(packet) {
			r.ProcessInboundPacket(packet)
		}
		if r.LoadOutboundPacket(packet) {
			s.ProcessInboundPacket(packet)
		}

		s.Update(tick)
		r.Update(tick)
	}

	return budget
}

func newPair(t *testing.T, data []byte, name string) (*Sender, *Receiver, string) {
	t.Helper()

	src := writeFile(t, t.TempDir(), name, data)
	out := t.TempDir()

	s := NewSender(nil)
	require.NoError(t, s.Initialize(src))

	r := NewReceiver(nil)
	require.NoError(t, r.Initialize(out))

	return s, r, out
}
