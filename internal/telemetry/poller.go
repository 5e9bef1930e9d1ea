package telemetry

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/carberryd/internal/clock"
	"github.com/sweeney/carberryd/internal/protocol"
)

const (
	// DefaultPollInterval is the pause between successful rounds.
	DefaultPollInterval = time.Second

	// DefaultRetryPause is how long the channel stays closed after a failed round.
	DefaultRetryPause = 60 * time.Second

	// ExitIdleDelay is the CAN idle delay, in seconds, set when polling gives up
	// so the board can go to sleep soon after.
	ExitIdleDelay = 10
)

// Options configures a Poller.
type Options struct {
	Channel      string
	IdleDelay    time.Duration // total failed-round budget before giving up
	PollInterval time.Duration
	RetryPause   time.Duration
}

// Poller queries every metric in turn for as long as the vehicle answers.
type Poller struct {
	link  Sender
	clock clock.Clock
	sinks []Sink
	opts  Options
}

// NewPoller creates a Poller. Zero options take their defaults.
func NewPoller(link Sender, clk clock.Clock, sinks []Sink, opts Options) *Poller {
	if opts.Channel == "" {
		opts.Channel = protocol.DefaultChannel
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryPause <= 0 {
		opts.RetryPause = DefaultRetryPause
	}
	return &Poller{link: link, clock: clk, sinks: sinks, opts: opts}
}

// MaxFailedRounds is how many consecutive failed rounds Run tolerates.
func (p *Poller) MaxFailedRounds() int {
	n := int(p.opts.IdleDelay / p.opts.RetryPause)
	if n < 1 {
		n = 1
	}
	return n
}

// Prepare makes the board wake on CAN activity and stay up for IdleDelay
// once the bus goes quiet.
func (p *Poller) Prepare() error {
	if err := p.command(protocol.CmdWakeupActivity); err != nil {
		return err
	}
	return p.command(protocol.CANIdleDelay(int(p.opts.IdleDelay / time.Second)))
}

// Run polls until MaxFailedRounds consecutive rounds fail, then shortens
// the board's CAN idle delay and returns nil. Any successful round resets
// the budget. Only link errors are returned.
func (p *Poller) Run() error {
	if err := p.open(); err != nil {
		return err
	}

	budget := p.MaxFailedRounds()
	remaining := budget
	for remaining > 0 {
		ok, err := p.Round()
		if err != nil {
			return err
		}
		if ok {
			remaining = budget
			p.clock.Sleep(p.opts.PollInterval)
			continue
		}

		if err := p.command(protocol.CANClose(p.opts.Channel)); err != nil {
			return err
		}
		remaining--
		log.Printf("telemetry: no answer from vehicle, retrying in %v (%d attempts left)", p.opts.RetryPause, remaining)
		p.clock.Sleep(p.opts.RetryPause)
		if err := p.open(); err != nil {
			return err
		}
	}

	log.Printf("telemetry: giving up after %d failed rounds", budget)
	return p.command(protocol.CANIdleDelay(ExitIdleDelay))
}

// Round queries every metric in order, stopping at the first one that
// does not decode. Readings taken before the failure are still delivered.
func (p *Poller) Round() (bool, error) {
	for _, m := range Metrics {
		reply, err := p.link.Send(protocol.OBDQuery(p.opts.Channel, m.PID))
		if err != nil {
			return false, fmt.Errorf("telemetry: query %s: %w", m.Name, err)
		}
		value, ok := Decode(m, reply.Text)
		if reply.Kind != protocol.ReplyData || !ok {
			return false, nil
		}
		for _, s := range p.sinks {
			if err := s.Write(m, value); err != nil {
				log.Printf("telemetry: write %s: %v", m.Name, err)
			}
		}
	}
	return true, nil
}

func (p *Poller) open() error {
	for _, cmd := range []string{
		protocol.CANOpen(p.opts.Channel),
		protocol.CmdAlignRight,
		protocol.OBDSetRxID(p.opts.Channel),
	} {
		if err := p.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

// command sends cmd and logs a refusal. Only link errors are returned.
func (p *Poller) command(cmd string) error {
	reply, err := p.link.Send(cmd)
	if err != nil {
		return fmt.Errorf("telemetry: %s: %w", cmd, err)
	}
	if !reply.OK() {
		log.Printf("telemetry: %s: %q", cmd, reply.Text)
	}
	return nil
}
