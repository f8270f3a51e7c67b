// Package sim provides an in-process simulated robot backend.
//
// The simulator registers itself as the "sim" backend. It models one lease
// holder, one estop endpoint slot and a motor power state that takes time to
// settle, which is enough to drive the console without hardware and to test
// the coordinator's sequencing.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/spotmotors/pkg/robot"
)

// BackendName is the registry name of the simulator.
const BackendName = "sim"

func init() {
	robot.Register(BackendName, NewSDK(DefaultOptions()))
}

const leaseRenewInterval = 2 * time.Second

// Options configure simulated robots.
type Options struct {
	// Username and Password, when set, are the only accepted credentials.
	// Otherwise any non-empty pair is accepted.
	Username string
	Password string

	PowerOnDelay  time.Duration
	PowerOffDelay time.Duration
	MotionDelay   time.Duration

	// EstopOwnedElsewhere makes every estop registration fail.
	EstopOwnedElsewhere bool
}

// DefaultOptions returns delays that feel like a real robot.
func DefaultOptions() Options {
	return Options{
		PowerOnDelay:  2 * time.Second,
		PowerOffDelay: 1500 * time.Millisecond,
		MotionDelay:   1500 * time.Millisecond,
	}
}

// Faults injects failures into a simulated robot.
type Faults struct {
	RejectPowerOn  bool  // PowerOn fails with robot.ErrRejected
	PowerOnIgnored bool  // PowerOn succeeds but power stays off
	PowerOffStuck  bool  // PowerOff succeeds but power stays on
	QueryErr       error // IsPoweredOn and IsEstopped fail
	LeaseStopErr   error // lease keep-alive Stop fails, lease stays held

	LeaseKeepAliveErr error // StartLeaseKeepAlive fails, lease stays held
	EstopKeepAliveErr error // StartEstopKeepAlive fails, endpoint stays registered
	EstopStopErr      error // estop keep-alive Stop fails, endpoint stays registered
	DeregisterErr     error // DeregisterEstopEndpoint fails
}

// SDK hands out one simulated robot per hostname.
type SDK struct {
	opts Options

	mu     sync.Mutex
	robots map[string]*Robot
}

// NewSDK creates a simulator SDK.
func NewSDK(opts Options) *SDK {
	return &SDK{
		opts:   opts,
		robots: make(map[string]*Robot),
	}
}

// Authenticate checks creds and returns the robot for hostname.
func (s *SDK) Authenticate(ctx context.Context, hostname string, creds robot.Credentials) (robot.Robot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hostname == "" {
		return nil, fmt.Errorf("sim: empty hostname")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: missing username or password", robot.ErrAuthentication)
	}
	if s.opts.Username != "" && (creds.Username != s.opts.Username || creds.Password != s.opts.Password) {
		return nil, fmt.Errorf("%w: invalid credentials for %s", robot.ErrAuthentication, creds.Username)
	}
	return s.Robot(hostname), nil
}

// Robot returns the simulated robot for hostname, creating it on first use.
func (s *SDK) Robot(hostname string) *Robot {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.robots[hostname]
	if !ok {
		r = newRobot(hostname, s.opts)
		s.robots[hostname] = r
	}
	return r
}

// Robot is a simulated robot. It implements robot.Robot.
type Robot struct {
	hostname string
	opts     Options

	mu             sync.Mutex
	faults         Faults
	lease          *robot.Lease
	leaseEpoch     uint64
	leaseKeepAlive *keepAlive
	renewals       int
	estop          *endpoint
	estopKeepAlive *keepAlive
	checkIns       int
	cut            bool
	externalCut    bool
	powered        bool
	standing       bool
	calls          map[string]int
	callLog        []string
}

var _ robot.Robot = (*Robot)(nil)

func newRobot(hostname string, opts Options) *Robot {
	return &Robot{
		hostname: hostname,
		opts:     opts,
		calls:    make(map[string]int),
	}
}

// Inject replaces the active faults.
func (r *Robot) Inject(f Faults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = f
}

// SetExternalEstop simulates an estop held by another operator.
func (r *Robot) SetExternalEstop(cut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.externalCut = cut
	if cut {
		r.powerLost()
	}
}

// Calls returns how many times the named method was invoked.
func (r *Robot) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// CallLog returns every method invocation in order.
func (r *Robot) CallLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.callLog...)
}

// LeaseHeld reports whether any client holds the lease.
func (r *Robot) LeaseHeld() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lease != nil
}

// EstopRegistered reports whether an estop endpoint is registered.
func (r *Robot) EstopRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.estop != nil
}

// Standing reports whether the last motion left the robot standing.
func (r *Robot) Standing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.standing
}

func (r *Robot) count(method string) {
	r.mu.Lock()
	r.calls[method]++
	r.callLog = append(r.callLog, method)
	r.mu.Unlock()
}

func (r *Robot) holdsLease() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lease != nil
}

// powerLost must be called with r.mu held.
func (r *Robot) powerLost() {
	r.powered = false
	r.standing = false
}

func (r *Robot) estoppedLocked() bool {
	return r.cut || r.externalCut
}

// AcquireLease implements robot.Robot.
func (r *Robot) AcquireLease(ctx context.Context) (robot.Lease, error) {
	r.count("AcquireLease")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease != nil {
		return robot.Lease{}, robot.ErrLeaseUnavailable
	}
	r.leaseEpoch++
	lease := robot.Lease{
		ID:       uuid.NewString(),
		Resource: "body",
		Epoch:    r.leaseEpoch,
	}
	r.lease = &lease
	return lease, nil
}

// StartLeaseKeepAlive implements robot.Robot.
func (r *Robot) StartLeaseKeepAlive(ctx context.Context, lease robot.Lease) (robot.KeepAlive, error) {
	r.count("StartLeaseKeepAlive")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease == nil || r.lease.ID != lease.ID {
		return nil, fmt.Errorf("%w: lease %s not held", robot.ErrLeaseUnavailable, lease.ID)
	}
	if r.leaseKeepAlive != nil {
		return nil, fmt.Errorf("sim: lease keep-alive already running")
	}
	if r.faults.LeaseKeepAliveErr != nil {
		return nil, r.faults.LeaseKeepAliveErr
	}

	r.leaseKeepAlive = startKeepAlive(leaseRenewInterval,
		func() {
			r.mu.Lock()
			r.renewals++
			r.mu.Unlock()
		},
		func() error {
			r.count("StopLeaseKeepAlive")
			r.mu.Lock()
			defer r.mu.Unlock()
			r.leaseKeepAlive = nil
			if r.faults.LeaseStopErr != nil {
				return r.faults.LeaseStopErr
			}
			r.lease = nil
			return nil
		})
	return r.leaseKeepAlive, nil
}

// ReturnLease implements robot.Robot.
func (r *Robot) ReturnLease(ctx context.Context, lease robot.Lease) error {
	r.count("ReturnLease")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease == nil || r.lease.ID != lease.ID {
		return fmt.Errorf("%w: lease %s not held", robot.ErrLeaseUnavailable, lease.ID)
	}
	if r.leaseKeepAlive != nil {
		return fmt.Errorf("sim: lease keep-alive still running")
	}
	r.lease = nil
	return nil
}

// RegisterEstopEndpoint implements robot.Robot.
func (r *Robot) RegisterEstopEndpoint(ctx context.Context, name string, timeout time.Duration) (robot.EstopEndpoint, error) {
	r.count("RegisterEstopEndpoint")
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.EstopOwnedElsewhere {
		return nil, fmt.Errorf("%w: registered by another operator", robot.ErrEstopOwned)
	}
	if r.estop != nil {
		return nil, fmt.Errorf("%w: %s", robot.ErrEstopOwned, r.estop.name)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("sim: estop timeout must be positive")
	}

	ep := &endpoint{robot: r, name: name, timeout: timeout}
	r.estop = ep
	r.cut = false
	return ep, nil
}

// StartEstopKeepAlive implements robot.Robot.
func (r *Robot) StartEstopKeepAlive(ctx context.Context, ep robot.EstopEndpoint) (robot.KeepAlive, error) {
	r.count("StartEstopKeepAlive")
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := ep.(*endpoint)
	if !ok || r.estop != e {
		return nil, fmt.Errorf("sim: estop endpoint %q not registered", ep.Name())
	}
	if r.estopKeepAlive != nil {
		return nil, fmt.Errorf("sim: estop keep-alive already running")
	}
	if r.faults.EstopKeepAliveErr != nil {
		return nil, r.faults.EstopKeepAliveErr
	}

	r.estopKeepAlive = startKeepAlive(e.timeout/3,
		func() {
			r.mu.Lock()
			r.checkIns++
			r.mu.Unlock()
		},
		func() error {
			r.count("StopEstopKeepAlive")
			r.mu.Lock()
			defer r.mu.Unlock()
			r.estopKeepAlive = nil
			if r.faults.EstopStopErr != nil {
				return r.faults.EstopStopErr
			}
			r.estop = nil
			r.cut = false
			return nil
		})
	return r.estopKeepAlive, nil
}

// DeregisterEstopEndpoint implements robot.Robot.
func (r *Robot) DeregisterEstopEndpoint(ctx context.Context, ep robot.EstopEndpoint) error {
	r.count("DeregisterEstopEndpoint")
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := ep.(*endpoint)
	if !ok || r.estop != e {
		return fmt.Errorf("sim: estop endpoint %q not registered", ep.Name())
	}
	if r.estopKeepAlive != nil {
		return fmt.Errorf("sim: estop keep-alive still running")
	}
	if r.faults.DeregisterErr != nil {
		return r.faults.DeregisterErr
	}
	r.estop = nil
	r.cut = false
	return nil
}

// IsEstopped implements robot.Robot.
func (r *Robot) IsEstopped(ctx context.Context) (bool, error) {
	r.count("IsEstopped")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faults.QueryErr != nil {
		return false, r.faults.QueryErr
	}
	return r.estoppedLocked(), nil
}

// IsPoweredOn implements robot.Robot.
func (r *Robot) IsPoweredOn(ctx context.Context) (bool, error) {
	r.count("IsPoweredOn")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faults.QueryErr != nil {
		return false, r.faults.QueryErr
	}
	return r.powered, nil
}

// PowerOn implements robot.Robot.
func (r *Robot) PowerOn(ctx context.Context, timeout time.Duration) error {
	r.count("PowerOn")
	r.mu.Lock()
	switch {
	case r.lease == nil:
		r.mu.Unlock()
		return fmt.Errorf("%w: no lease held", robot.ErrRejected)
	case r.estoppedLocked():
		r.mu.Unlock()
		return robot.ErrEstopped
	case r.faults.RejectPowerOn:
		r.mu.Unlock()
		return fmt.Errorf("%w: motor power fault", robot.ErrRejected)
	}
	r.mu.Unlock()

	if err := settle(ctx, r.opts.PowerOnDelay, timeout); err != nil {
		return fmt.Errorf("power on: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.estoppedLocked() {
		return robot.ErrEstopped
	}
	if !r.faults.PowerOnIgnored {
		r.powered = true
	}
	return nil
}

// PowerOff implements robot.Robot.
func (r *Robot) PowerOff(ctx context.Context, cutImmediately bool, timeout time.Duration) error {
	r.count("PowerOff")
	if !r.holdsLease() {
		return fmt.Errorf("%w: no lease held", robot.ErrRejected)
	}

	delay := r.opts.PowerOffDelay
	if cutImmediately {
		delay = 0
	}
	if err := settle(ctx, delay, timeout); err != nil {
		return fmt.Errorf("power off: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.faults.PowerOffStuck {
		r.powerLost()
	}
	return nil
}

// BlockingStand implements robot.Robot.
func (r *Robot) BlockingStand(ctx context.Context, timeout time.Duration) error {
	r.count("BlockingStand")
	return r.move(ctx, timeout, true)
}

// BlockingSit implements robot.Robot.
func (r *Robot) BlockingSit(ctx context.Context, timeout time.Duration) error {
	r.count("BlockingSit")
	return r.move(ctx, timeout, false)
}

func (r *Robot) move(ctx context.Context, timeout time.Duration, stand bool) error {
	r.mu.Lock()
	leased, powered := r.lease != nil, r.powered
	r.mu.Unlock()
	if !leased {
		return fmt.Errorf("%w: no lease held", robot.ErrRejected)
	}
	if !powered {
		return robot.ErrNotPowered
	}

	if err := settle(ctx, r.opts.MotionDelay, timeout); err != nil {
		return fmt.Errorf("motion: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// estop may have fired mid-motion
	if !r.powered {
		return robot.ErrNotPowered
	}
	r.standing = stand
	return nil
}

// settle blocks for d, or for timeout and then reports robot.ErrTimeout when d
// exceeds it.
func settle(ctx context.Context, d, timeout time.Duration) error {
	if d <= 0 {
		return nil
	}
	timedOut := false
	if timeout > 0 && d > timeout {
		d = timeout
		timedOut = true
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if timedOut {
		return robot.ErrTimeout
	}
	return nil
}
