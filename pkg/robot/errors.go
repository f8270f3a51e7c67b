package robot

import "errors"

// Errors reported by SDK backends. Backends may wrap them with detail.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrLeaseUnavailable = errors.New("lease held by another client")
	ErrEstopOwned       = errors.New("estop owned by another endpoint")
	ErrEstopped         = errors.New("robot is estopped")
	ErrNotPowered       = errors.New("robot not powered on")
	ErrTimeout          = errors.New("timed out")
	ErrRejected         = errors.New("command rejected")
	ErrUnknownBackend   = errors.New("unknown backend")
)
