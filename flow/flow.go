// Package flow picks a send rate from measured round trip times.
//
// The controller has two modes. Bad conditions send slowly; after RTT stays
// under the threshold for longer than the current penalty the controller
// upgrades to Good. Dropping back out of Good quickly doubles the penalty,
// staying in Good for a while halves it again.
package flow

import "time"

type Mode uint8

const (
	Good Mode = iota
	Bad
)

func (m Mode) String() string {
	if m == Good {
		return "good"
	}
	return "bad"
}

const (
	RTTThreshold = 250 * time.Millisecond

	GoodSendRate = 30.0
	BadSendRate  = 10.0

	InitialPenalty = 4 * time.Second
	MinPenalty     = 1 * time.Second
	MaxPenalty     = 60 * time.Second

	// Good conditions shorter than this before a drop count as flapping.
	FlapWindow = 10 * time.Second
	// Time spent in Good before the penalty is halved.
	ReductionInterval = 10 * time.Second
)

type Controller struct {
	mode           Mode
	penalty        time.Duration
	goodTime       time.Duration
	reductionAccum time.Duration

	OnModeChange    func(mode Mode, penalty time.Duration)
	OnPenaltyChange func(penalty time.Duration)
}

func New() *Controller {
	c := &Controller{}
	c.Reset()
	return c
}

// Reset restores the initial Bad mode and penalty.
func (c *Controller) Reset() {
	c.mode = Bad
	c.penalty = InitialPenalty
	c.goodTime = 0
	c.reductionAccum = 0
}

func (c *Controller) Update(dt, rtt time.Duration) {
	if c.mode == Good {
		if rtt > RTTThreshold {
			c.mode = Bad
			if c.goodTime < FlapWindow && c.penalty < MaxPenalty {
				c.setPenalty(min(c.penalty*2, MaxPenalty))
			}
			c.goodTime = 0
			c.reductionAccum = 0
			c.modeChanged()
			return
		}

		c.goodTime += dt
		c.reductionAccum += dt

		if c.reductionAccum > ReductionInterval && c.penalty > MinPenalty {
			c.setPenalty(max(c.penalty/2, MinPenalty))
			c.reductionAccum = 0
		}
		return
	}

	if rtt <= RTTThreshold {
		c.goodTime += dt
	} else {
		c.goodTime = 0
	}

	if c.goodTime > c.penalty {
		c.mode = Good
		c.goodTime = 0
		c.reductionAccum = 0
		c.modeChanged()
	}
}

// SendRate returns the target packets per second for the current mode.
func (c *Controller) SendRate() float64 {
	if c.mode == Good {
		return GoodSendRate
	}
	return BadSendRate
}

// SendInterval is the time between two outbound packets at the current rate.
func (c *Controller) SendInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.SendRate())
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) PenaltyTime() time.Duration { return c.penalty }

func (c *Controller) GoodConditionsTime() time.Duration { return c.goodTime }

func (c *Controller) setPenalty(p time.Duration) {
	c.penalty = p
	if c.OnPenaltyChange != nil {
		c.OnPenaltyChange(p)
	}
}

func (c *Controller) modeChanged() {
	if c.OnModeChange != nil {
		c.OnModeChange(c.mode, c.penalty)
	}
}
