package motors

import "time"

// State is the coarse lifecycle state of a Controller. Estop and power
// sub-states belong to the robot and are read live into Status.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateClosed:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Tristate is a robot reading that may be unavailable.
type Tristate int

const (
	Unknown Tristate = iota
	No
	Yes
)

func tristate(v bool, err error) Tristate {
	switch {
	case err != nil:
		return Unknown
	case v:
		return Yes
	default:
		return No
	}
}

func (t Tristate) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Motion is the last completed motion command.
type Motion string

const (
	MotionNone     Motion = ""
	MotionStanding Motion = "standing"
	MotionSitting  Motion = "sitting"
)

// Status is a snapshot of the controller and robot.
type Status struct {
	State      State
	SessionID  string
	Hostname   string
	EstopOwned bool
	EstopName  string
	Estopped   Tristate
	PoweredOn  Tristate
	Motion     Motion
	LastError  error
	Timestamp  time.Time
}
