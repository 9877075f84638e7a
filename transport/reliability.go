package transport

import (
	"slices"
	"time"
)

const (
	// MaxSequence is the largest sequence number before wrap-around.
	MaxSequence = ^uint32(0)

	// MaxRTT is how long a packet may stay unacknowledged before it counts as lost.
	MaxRTT = time.Second

	// rttSmoothing is the weight of a new RTT sample.
	rttSmoothing = 0.1

	// ackWindow is the number of received sequences remembered for ack bits.
	ackWindow = 34
)

type packetData struct {
	seq  uint32
	age  time.Duration
	size int
}

// reliability tracks sequence numbers, acks, RTT and loss for one connection.
type reliability struct {
	localSeq  uint32
	remoteSeq uint32

	sent    uint32
	recv    uint32
	lost    uint32
	acked   uint32
	rtt     time.Duration
	rttMax  time.Duration
	sentBW  float64
	ackedBW float64

	sentQueue       []packetData
	pendingAckQueue []packetData
	receivedQueue   []packetData
	ackedQueue      []packetData
}

func newReliability() *reliability {
	return &reliability{rttMax: MaxRTT}
}

func (r *reliability) reset() {
	*r = reliability{rttMax: r.rttMax}
}

// moreRecent reports whether s1 is newer than s2, allowing for wrap-around.
func moreRecent(s1, s2 uint32) bool {
	const half = MaxSequence / 2
	return (s1 > s2 && s1-s2 <= half) || (s2 > s1 && s2-s1 > half)
}

// bitIndex is the position of seq in the ack bitfield relative to ack. seq
// must be older than ack.
func bitIndex(seq, ack uint32) uint32 {
	return ack - 1 - seq
}

func (r *reliability) localSequence() uint32 { return r.localSeq }

func (r *reliability) remoteSequence() uint32 { return r.remoteSeq }

func (r *reliability) packetSent(size int) {
	r.sentQueue = append(r.sentQueue, packetData{seq: r.localSeq, size: size})
	r.pendingAckQueue = append(r.pendingAckQueue, packetData{seq: r.localSeq, size: size})
	r.sent++
	r.localSeq++
}

func (r *reliability) packetReceived(seq uint32, size int) {
	r.recv++

	if slices.ContainsFunc(r.receivedQueue, func(p packetData) bool { return p.seq == seq }) {
		return
	}

	r.receivedQueue = append(r.receivedQueue, packetData{seq: seq, size: size})
	if moreRecent(seq, r.remoteSeq) {
		r.remoteSeq = seq
	}
}

// ackBits marks each of the 32 sequences before remoteSeq that was received.
func (r *reliability) ackBits() uint32 {
	var bits uint32
	for _, p := range r.receivedQueue {
		if p.seq == r.remoteSeq || moreRecent(p.seq, r.remoteSeq) {
			continue
		}

		if i := bitIndex(p.seq, r.remoteSeq); i <= 31 {
			bits |= 1 << i
		}
	}
	return bits
}

func (r *reliability) processAck(ack, bits uint32) {
	r.pendingAckQueue = slices.DeleteFunc(r.pendingAckQueue, func(p packetData) bool {
		acked := p.seq == ack
		if !acked && moreRecent(ack, p.seq) {
			if i := bitIndex(p.seq, ack); i <= 31 {
				acked = bits&(1<<i) != 0
			}
		}

		if !acked {
			return false
		}

		r.rtt += time.Duration(float64(p.age-r.rtt) * rttSmoothing)
		r.ackedQueue = append(r.ackedQueue, p)
		r.acked++
		return true
	})
}

func (r *reliability) update(dt time.Duration) {
	for _, q := range [][]packetData{r.sentQueue, r.pendingAckQueue, r.receivedQueue, r.ackedQueue} {
		for i := range q {
			q[i].age += dt
		}
	}

	r.sentQueue = slices.DeleteFunc(r.sentQueue, func(p packetData) bool {
		return p.age > r.rttMax
	})

	r.ackedQueue = slices.DeleteFunc(r.ackedQueue, func(p packetData) bool {
		return p.age > 2*r.rttMax
	})

	r.pendingAckQueue = slices.DeleteFunc(r.pendingAckQueue, func(p packetData) bool {
		if p.age > r.rttMax {
			r.lost++
			return true
		}
		return false
	})

	latest := r.remoteSeq
	r.receivedQueue = slices.DeleteFunc(r.receivedQueue, func(p packetData) bool {
		return latest-p.seq >= ackWindow
	})

	r.updateBandwidth()
}

func (r *reliability) updateBandwidth() {
	var sentBytes, ackedBytes int
	for _, p := range r.sentQueue {
		sentBytes += p.size
	}
	for _, p := range r.ackedQueue {
		if p.age >= r.rttMax {
			ackedBytes += p.size
		}
	}

	window := r.rttMax.Seconds()
	r.sentBW = float64(sentBytes) / window * 8 / 1000
	r.ackedBW = float64(ackedBytes) / window * 8 / 1000
}
