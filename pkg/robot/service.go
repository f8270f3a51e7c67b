// Package robot defines the capability interface to the robot control SDK.
//
// The coordinator in pkg/motors never talks to a robot directly; it consumes an
// SDK that authenticates and hands back a Robot. Estop arbitration, the motor
// power state machine and command execution all live behind these interfaces.
package robot

import (
	"context"
	"time"
)

// Credentials identify the operator to the robot.
type Credentials struct {
	Username string
	Password string
}

// Lease is an exclusivity token granting the holder motor authority.
type Lease struct {
	ID       string
	Resource string
	Epoch    uint64
}

// SDK creates authenticated robot connections.
type SDK interface {
	// Authenticate connects to hostname and logs in.
	Authenticate(ctx context.Context, hostname string, creds Credentials) (Robot, error)
}

// Robot is an authenticated connection to one robot.
type Robot interface {
	// AcquireLease takes the body lease. Fails with ErrLeaseUnavailable if
	// another client holds it.
	AcquireLease(ctx context.Context) (Lease, error)

	// StartLeaseKeepAlive begins renewing the lease in the background until
	// the returned KeepAlive is stopped. Stopping returns the lease.
	StartLeaseKeepAlive(ctx context.Context, lease Lease) (KeepAlive, error)

	// ReturnLease gives back a lease whose keep-alive never started.
	ReturnLease(ctx context.Context, lease Lease) error

	// RegisterEstopEndpoint claims the estop. Fails with ErrEstopOwned if
	// another endpoint is already registered.
	RegisterEstopEndpoint(ctx context.Context, name string, timeout time.Duration) (EstopEndpoint, error)

	// StartEstopKeepAlive begins checking in for the endpoint. The robot cuts
	// power if check-ins stop without the keep-alive being stopped.
	StartEstopKeepAlive(ctx context.Context, endpoint EstopEndpoint) (KeepAlive, error)

	// DeregisterEstopEndpoint removes an endpoint whose keep-alive never
	// started, so the robot stops waiting for its check-ins.
	DeregisterEstopEndpoint(ctx context.Context, endpoint EstopEndpoint) error

	IsEstopped(ctx context.Context) (bool, error)
	IsPoweredOn(ctx context.Context) (bool, error)

	// PowerOn requests motor power and waits up to timeout for it.
	PowerOn(ctx context.Context, timeout time.Duration) error

	// PowerOff requests motor power off. Like PowerOn and the motion
	// commands it requires the lease. With cutImmediately false the robot
	// sits down first.
	PowerOff(ctx context.Context, cutImmediately bool, timeout time.Duration) error

	// BlockingStand returns once the robot reports standing or timeout elapses.
	BlockingStand(ctx context.Context, timeout time.Duration) error

	// BlockingSit returns once the robot reports sitting or timeout elapses.
	BlockingSit(ctx context.Context, timeout time.Duration) error
}

// EstopEndpoint is a registered estop. Allow permits motor power, Cut removes it.
type EstopEndpoint interface {
	Name() string
	Allow(ctx context.Context) error
	Cut(ctx context.Context) error
}

// KeepAlive is a service-owned background renewal.
type KeepAlive interface {
	Stop() error
}
