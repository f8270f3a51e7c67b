package motors

import (
	"context"
	"errors"
	"fmt"

	"github.com/gwillem/spotmotors/pkg/robot"
)

// Failure codes returned by Controller operations. Match them with errors.Is.
var (
	ErrAuthentication     = errors.New("authentication failure")
	ErrNoEstopOwnership   = errors.New("no estop ownership")
	ErrPowerOnTimeout     = errors.New("power on timeout")
	ErrPowerOnRejected    = errors.New("power on rejected")
	ErrPowerOffTimeout    = errors.New("power off timeout")
	ErrMotionTimeout      = errors.New("motion command timeout")
	ErrSessionClosed      = errors.New("session closed")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrLeaseUnavailable   = errors.New("lease unavailable")
	ErrEstopped           = errors.New("robot is estopped")
	ErrNotPoweredOn       = errors.New("robot not powered on")
	ErrCommandFailed      = errors.New("command failed")
)

// OpError reports a failed Controller operation. Code is one of the Err*
// values above; Err is the underlying service error, if any.
type OpError struct {
	Op   string
	Code error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Code, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// Code extracts the failure code from err, or nil if err is not an OpError.
func Code(err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, robot.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
