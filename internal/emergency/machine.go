// Package emergency models the simulated 911 call mode.
package emergency

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State of the emergency call
type State int

const (
	Normal State = iota
	Connecting
	Connected
	// Ended is transient and folds back to Normal immediately.
	Ended
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid emergency transition")

// Scripted lines of the call.
const (
	CallingNotice   = "Calling 911..."
	ConnectedNotice = `Connected to 911 emergency services. Type "end" to terminate the call.`
	Opener          = "911, what's your emergency? Please state your location and the nature of your emergency."
	EndedNotice     = "911 emergency call ended"
	Confirmation    = "The emergency call has been terminated. Emergency services have been notified of your situation. How can I assist you with anything else today?"
)

// Timings drive the call choreography.
type Timings struct {
	Connect         time.Duration // Connecting -> Connected
	OpenerDelay     time.Duration // connected notice -> typing indicator
	Typing          time.Duration // typing indicator -> opener message
	DispatcherReply time.Duration
	EndDelay        time.Duration // "end" -> call ended notice
	ConfirmDelay    time.Duration // call ended notice -> confirmation message
}

// DefaultTimings returns the stock pacing of the call.
func DefaultTimings() Timings {
	return Timings{
		Connect:         2000 * time.Millisecond,
		OpenerDelay:     500 * time.Millisecond,
		Typing:          1000 * time.Millisecond,
		DispatcherReply: 1000 * time.Millisecond,
		EndDelay:        810 * time.Millisecond,
		ConfirmDelay:    900 * time.Millisecond,
	}
}

// Triggers reports whether text starts a call.
func Triggers(text string) bool {
	return strings.Contains(text, "911")
}

// WantsEnd reports whether text ends an active call.
func WantsEnd(text string) bool {
	return strings.Contains(strings.ToLower(text), "end")
}

// Transition is one state change
type Transition struct {
	From, To State
}

// Machine holds the call state. It is not safe for concurrent use.
type Machine struct {
	state State

	// OnTransition observes every state change, including the pass through Ended.
	OnTransition func(Transition)
}

// New returns a machine in Normal.
func New() *Machine {
	return &Machine{state: Normal}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Active reports whether a call is in progress (Connecting or Connected).
func (m *Machine) Active() bool {
	return m.state == Connecting || m.state == Connected
}

// Dial moves Normal -> Connecting.
func (m *Machine) Dial() error {
	if m.state != Normal {
		return fmt.Errorf("%w: dial from %s", ErrInvalidTransition, m.state)
	}
	m.set(Connecting)
	return nil
}

// Connect moves Connecting -> Connected.
func (m *Machine) Connect() error {
	if m.state != Connecting {
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, m.state)
	}
	m.set(Connected)
	return nil
}

// Hangup ends an active call through Ended back to Normal.
func (m *Machine) Hangup() error {
	if !m.Active() {
		return fmt.Errorf("%w: hang up from %s", ErrInvalidTransition, m.state)
	}
	m.set(Ended)
	m.set(Normal)
	return nil
}

// Abandon leaves emergency mode silently. It reports whether a call was active.
func (m *Machine) Abandon() bool {
	if !m.Active() {
		return false
	}
	m.set(Normal)
	return true
}

func (m *Machine) set(to State) {
	from := m.state
	m.state = to
	if m.OnTransition != nil {
		m.OnTransition(Transition{From: from, To: to})
	}
}
