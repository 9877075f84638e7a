package teleport

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dyastin-0/teleport/core"
	"github.com/Dyastin-0/teleport/crc"
	"github.com/Dyastin-0/teleport/flow"
	"github.com/Dyastin-0/teleport/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// link is an in-memory datagram pipe that drops a share of packets.
type link struct {
	rng  *rand.Rand
	loss float64
	rtt  time.Duration
}

type endpoint struct {
	link      *link
	peer      *endpoint
	queue     [][]byte
	connected bool
	failed    bool
	sent      uint32
}

func pipe(loss float64, seed int64) (*endpoint, *endpoint) {
	l := &link{rng: rand.New(rand.NewSource(seed)), loss: loss}
	a := &endpoint{link: l, connected: true}
	b := &endpoint{link: l, connected: true}
	a.peer, b.peer = b, a
	return a, b
}

func (e *endpoint) Send(payload []byte) error {
	e.sent++
	if e.link.rng.Float64() < e.link.loss {
		return nil
	}
	e.peer.queue = append(e.peer.queue, bytes.Clone(payload))
	return nil
}

func (e *endpoint) TryReceive(buf []byte) (int, bool) {
	if len(e.queue) == 0 {
		return 0, false
	}
	p := e.queue[0]
	e.queue = e.queue[1:]
	return copy(buf, p), true
}

func (e *endpoint) Update(time.Duration) {}

func (e *endpoint) IsConnected() bool { return e.connected }

func (e *endpoint) ConnectFailed() bool { return e.failed }

func (e *endpoint) RoundTripTime() time.Duration { return e.link.rtt }

func (e *endpoint) Stats() transport.Stats { return transport.Stats{Sent: e.sent, RTT: e.link.rtt} }

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func newSender(t *testing.T, name string, data []byte) *core.Sender {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))

	s := core.NewSender(nil)
	require.NoError(t, s.Initialize(path))
	return s
}

func newReceiver(t *testing.T) (*core.Receiver, string) {
	t.Helper()

	out := t.TempDir()
	r := core.NewReceiver(nil)
	require.NoError(t, r.Initialize(out))
	return r, out
}

type result struct {
	summary Summary
	saved   string
	ticks   int
	r       *core.Receiver
}

// run steps both drivers in lock step until the send finishes.
func run(t *testing.T, data []byte, loss float64, seed int64) result {
	t.Helper()

	s := newSender(t, "payload.bin", data)
	r, _ := newReceiver(t)

	var saved string
	r.OnSaved = func(path string, _ core.FileMetadata) { saved = path }

	a, b := pipe(loss, seed)
	cfg := DefaultConfig()
	sd := NewSendDriver(cfg, a, s, nil)
	rd := NewReceiveDriver(cfg, b, r, nil)

	const budget = 100_000
	for i := range budget {
		done, err := sd.Step(cfg.TickRate)
		require.NoError(t, err)
		if done {
			return result{summary: sd.Summary(), saved: saved, ticks: i, r: r}
		}

		_, err = rd.Step(cfg.TickRate)
		require.NoError(t, err)
	}

	t.Fatalf("transfer did not finish in %d ticks", budget)
	return result{}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
		loss float64
	}{
		{"empty", 0, 0},
		{"small", 1, 0},
		{"exact chunks", 4 * core.ChunkDataSize, 0},
		{"lossless", 20_000, 0},
		{"lossy", 20_000, 0.2},
		{"very lossy", 5_000, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := randomBytes(tt.size, int64(tt.size)+1)
			res := run(t, data, tt.loss, 42)

			require.NotEmpty(t, res.saved)
			got, err := os.ReadFile(res.saved)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			assert.Equal(t, crc.Checksum(data), res.summary.File.CRC32)
			assert.Equal(t, res.summary.File.CRC32, res.r.Computed())
			assert.Equal(t, uint32(tt.size), res.summary.File.FileSize)
			assert.Greater(t, res.summary.Elapsed, time.Duration(0))
			if tt.size > 0 {
				assert.Greater(t, res.summary.Mbps, 0.0)
			}
		})
	}
}

func TestRoundTripProgress(t *testing.T) {
	data := randomBytes(10*core.ChunkDataSize, 7)
	s := newSender(t, "p.bin", data)
	r, _ := newReceiver(t)

	a, b := pipe(0, 1)
	sd := NewSendDriver(DefaultConfig(), a, s, nil)
	rd := NewReceiveDriver(DefaultConfig(), b, r, nil)

	var sent, received []uint32
	sd.OnProgress = func(done, total uint32) {
		assert.Equal(t, uint32(10), total)
		sent = append(sent, done)
	}
	rd.OnProgress = func(done, total uint32) {
		received = append(received, done)
	}

	for range 10_000 {
		done, err := sd.Step(TickRate)
		require.NoError(t, err)
		if done {
			break
		}
		_, err = rd.Step(TickRate)
		require.NoError(t, err)
	}

	require.NotEmpty(t, sent)
	assert.Equal(t, uint32(10), sent[len(sent)-1])
	assert.IsIncreasing(t, sent)
	assert.Contains(t, received, uint32(10))
}

func TestSendRateFollowsFlowMode(t *testing.T) {
	a, _ := pipe(0, 1)
	a.link.rtt = 400 * time.Millisecond

	d := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)
	for range 30 {
		_, err := d.Step(TickRate)
		require.NoError(t, err)
	}

	assert.Equal(t, flow.Bad, d.Flow().Mode())
	assert.InDelta(t, 10, a.sent, 1)

	a.link.rtt = 0
	for range 5 * 30 {
		_, err := d.Step(TickRate)
		require.NoError(t, err)
	}
	require.Equal(t, flow.Good, d.Flow().Mode())

	before := a.sent
	for range 30 {
		_, err := d.Step(TickRate)
		require.NoError(t, err)
	}
	assert.InDelta(t, 30, a.sent-before, 1)
}

func TestConnectFailed(t *testing.T) {
	a, _ := pipe(0, 1)
	a.failed = true

	d := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)
	_, err := d.Step(TickRate)

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), "a.txt")
}

func TestSenderConnectionLost(t *testing.T) {
	a, _ := pipe(0, 1)
	d := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)

	_, err := d.Step(TickRate)
	require.NoError(t, err)

	a.connected = false
	_, err = d.Step(TickRate)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestReceiverSurvivesConnectionLoss(t *testing.T) {
	data := randomBytes(20*core.ChunkDataSize, 3)
	s := newSender(t, "a.bin", data)
	r, _ := newReceiver(t)

	a, b := pipe(0, 1)
	sd := NewSendDriver(DefaultConfig(), a, s, nil)
	rd := NewReceiveDriver(DefaultConfig(), b, r, nil)

	for r.State() != core.StateReceiving {
		_, err := sd.Step(TickRate)
		require.NoError(t, err)
		_, err = rd.Step(TickRate)
		require.NoError(t, err)
	}

	rd.Flow().Update(5*time.Second, 0)
	require.Equal(t, flow.Good, rd.Flow().Mode())

	b.connected = false
	_, err := rd.Step(TickRate)
	require.NoError(t, err)

	assert.Equal(t, core.StateListening, r.State())
	assert.Equal(t, flow.Bad, rd.Flow().Mode())
}

func TestCrackedSession(t *testing.T) {
	r, _ := newReceiver(t)
	a, b := pipe(0, 1)
	d := NewReceiveDriver(DefaultConfig(), b, r, nil)

	// a peer whose chunks are larger than ours
	m := core.FileMetadata{FileName: "big.bin", FileSize: 1000, TotalChunks: 2, CRC32: 0xCAFE}
	e, err := m.Envelope()
	require.NoError(t, err)
	require.NoError(t, a.Send(e.Bytes()))

	_, err = d.Step(TickRate)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCracked)
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)
	assert.Contains(t, err.Error(), "big.bin")
	assert.Contains(t, err.Error(), "1000 bytes")
	assert.Contains(t, err.Error(), "0x0000CAFE")
}

func TestRunStopsWithContext(t *testing.T) {
	r, _ := newReceiver(t)
	_, b := pipe(0, 1)
	d := NewReceiveDriver(DefaultConfig(), b, r, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := d.Run(ctx)
	assert.NoError(t, err)

	a, _ := pipe(0, 1)
	sd := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)

	ctx, cancel = context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	_, err = sd.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, a.sent)
}

func TestDriverIDs(t *testing.T) {
	a, b := pipe(0, 1)
	r, _ := newReceiver(t)
	d1 := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", nil), nil)
	d2 := NewReceiveDriver(DefaultConfig(), b, r, nil)

	assert.Len(t, d1.ID(), 36)
	assert.NotEqual(t, d1.ID(), d2.ID())
}

func TestWaitConnected(t *testing.T) {
	a, _ := pipe(0, 1)
	d := NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)
	assert.NoError(t, d.WaitConnected(context.Background()))

	a, _ = pipe(0, 1)
	a.connected = false
	a.failed = true
	d = NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)
	assert.ErrorIs(t, d.WaitConnected(context.Background()), ErrConnectFailed)

	a, _ = pipe(0, 1)
	a.connected = false
	d = NewSendDriver(DefaultConfig(), a, newSender(t, "a.txt", []byte("abc")), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.WaitConnected(ctx), context.DeadlineExceeded)
}
