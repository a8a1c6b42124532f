package exchange

import (
	"errors"

	"go.uber.org/atomic"
)

// ErrExchangeInFlight is the panic value raised when an exchange starts while
// another one still holds the slot. It indicates a sequencing bug.
var ErrExchangeInFlight = errors.New("exchange: another exchange is in flight")

// Slot is the single active-exchange token. The zero value is free.
type Slot struct {
	busy atomic.Bool
}

// Acquire takes the slot and panics with ErrExchangeInFlight if it is taken.
func (s *Slot) Acquire() {
	if !s.busy.CAS(false, true) {
		panic(ErrExchangeInFlight)
	}
}

// Release frees the slot.
func (s *Slot) Release() {
	s.busy.Store(false)
}

// Busy reports whether an exchange holds the slot.
func (s *Slot) Busy() bool {
	return s.busy.Load()
}
