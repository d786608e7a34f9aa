package telemetry

import "fmt"

// Publisher decides, once per tick, whether the current snapshot is due for
// emission, decoupling the publish frequency from the tick rate.
//
// Guarantees: inter-emit spacing is never shorter than the period and at
// most one tick longer. Skipped periods are dropped, not queued; there is no
// catch-up after a stall or a disconnected stretch.
type Publisher struct {
	period  float64
	nextDue float64
}

// NewPublisher returns a publisher emitting at most hz snapshots per
// simulated second. A non-positive frequency is a configuration error.
func NewPublisher(hz float64) (*Publisher, error) {
	p := &Publisher{}
	if err := p.SetFrequency(hz); err != nil {
		return nil, err
	}
	return p, nil
}

// SetFrequency reconfigures the publish frequency. The new period takes
// effect on the next scheduling decision; an already-computed due time is
// not adjusted retroactively.
func (p *Publisher) SetFrequency(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("publish frequency must be > 0, got %v", hz)
	}
	p.period = 1 / hz
	return nil
}

// Frequency returns the configured publish frequency in Hz.
func (p *Publisher) Frequency() float64 {
	return 1 / p.period
}

// Tick evaluates the schedule at sim time now. When the snapshot is due the
// due time advances to now+period and, only if the transport reports a
// connected state, the snapshot is handed to it. Reports whether a publish
// side effect happened.
func (p *Publisher) Tick(now float64, snap Snapshot, transport Transport) bool {
	if now < p.nextDue {
		return false
	}
	p.nextDue = now + p.period
	if transport == nil || !transport.Connected() {
		return false
	}
	transport.Publish(snap)
	return true
}
