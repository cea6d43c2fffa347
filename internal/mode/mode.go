// Package mode holds the relay's operating mode.
//
// Command handlers never change the mode directly; they return a
// Transition and the owner of the Controller applies it.
package mode

import "sync"

// State is the operating mode. The numeric values are reported on the
// radio link and must not change.
type State uint8

const (
	Enabled       State = 0
	Disabled      State = 1
	AutoPending   State = 2
	AutoConfirmed State = 3
)

func (s State) String() string {
	switch s {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	case AutoPending:
		return "auto_pending"
	case AutoConfirmed:
		return "auto_confirmed"
	default:
		return "unknown"
	}
}

// Auto reports whether s is one of the automatic modes.
func (s State) Auto() bool { return s == AutoPending || s == AutoConfirmed }

// Transition is a requested mode change.
type Transition uint8

const (
	None Transition = iota
	ToAuto
	ToEnabled
	ToDisabled
)

func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case ToAuto:
		return "to_auto"
	case ToEnabled:
		return "to_enabled"
	case ToDisabled:
		return "to_disabled"
	default:
		return "invalid"
	}
}

type Controller struct {
	mu    sync.Mutex
	state State
}

func NewController(initial State) *Controller {
	return &Controller{state: initial}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Apply performs t and returns the state before and after. ToAuto only
// takes effect from Enabled or Disabled; a controller already in an auto
// mode stays where it is.
func (c *Controller) Apply(t Transition) (old, updated State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old = c.state
	switch t {
	case ToAuto:
		if c.state < AutoPending {
			c.state = AutoConfirmed
		}
	case ToEnabled:
		c.state = Enabled
	case ToDisabled:
		c.state = Disabled
	}
	return old, c.state
}

// ConfirmAuto promotes AutoPending to AutoConfirmed and reports whether it
// did.
func (c *Controller) ConfirmAuto() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AutoPending {
		return false
	}
	c.state = AutoConfirmed
	return true
}

// Set forces the state. Used when restoring a persisted mode at startup.
func (c *Controller) Set(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
