package poller

import "time"

// Clock creates tickers. Tests substitute a simulated clock.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors the part of time.Ticker the loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

// SystemClock is backed by time.NewTicker.
func SystemClock() Clock { return systemClock{} }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
