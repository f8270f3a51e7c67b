// Package motors sequences lease, estop and motor power for a robot.
//
// A Controller takes the body lease, tries to become estop owner, and guards
// every motor action behind its preconditions. The robot SDK owns the safety
// logic itself; the controller only decides what may be asked of it and in
// which order.
package motors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/spotmotors/pkg/robot"
)

// commandGrace is added to every bounded wait so the service's own timeout
// fires before the context deadline.
const commandGrace = 2 * time.Second

// Config holds configuration for the controller.
type Config struct {
	EstopName     string
	EstopTimeout  time.Duration
	PowerTimeout  time.Duration
	MotionTimeout time.Duration
	Logger        *zerolog.Logger // nil disables structured logging
}

// ConfigFrom extracts the controller settings from a console configuration.
func ConfigFrom(rc robot.Config, logger *zerolog.Logger) Config {
	return Config{
		EstopName:     rc.EstopName,
		EstopTimeout:  rc.EstopTimeout,
		PowerTimeout:  rc.PowerTimeout,
		MotionTimeout: rc.MotionTimeout,
		Logger:        logger,
	}
}

// Controller coordinates one robot session. Operations are serialized: each
// blocks until its bounded wait completes.
type Controller struct {
	sdk        robot.SDK
	cfg        Config
	baseLogger zerolog.Logger
	logger     zerolog.Logger

	mu          sync.Mutex
	state       State
	session     *Session
	motion      Motion
	lastErr     error
	cleanupErrs []error

	stateCh chan Status
	logCh   chan string
}

// NewController creates a controller for robots reached through sdk.
func NewController(sdk robot.SDK, cfg Config) *Controller {
	if cfg.EstopName == "" {
		cfg.EstopName = robot.DefaultEstopName
	}
	if cfg.EstopTimeout <= 0 {
		cfg.EstopTimeout = robot.DefaultEstopTimeout
	}
	if cfg.PowerTimeout <= 0 {
		cfg.PowerTimeout = robot.DefaultPowerTimeout
	}
	if cfg.MotionTimeout <= 0 {
		cfg.MotionTimeout = robot.DefaultMotionTimeout
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Controller{
		sdk:        sdk,
		cfg:        cfg,
		baseLogger: logger,
		logger:     logger,
		stateCh:    make(chan Status, 1),
		logCh:      make(chan string, 32),
	}
}

// States returns a channel that receives status snapshots.
func (c *Controller) States() <-chan Status {
	return c.stateCh
}

// Logs returns a channel that receives human-readable log lines.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Session returns the current session, or nil before Initialize.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CleanupErrors returns the failures Shutdown logged and swallowed.
func (c *Controller) CleanupErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.cleanupErrs...)
}

func (c *Controller) emit(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

func (c *Controller) info(format string, args ...any) {
	c.logger.Info().Msgf(format, args...)
	c.emit(format, args...)
}

func (c *Controller) warn(format string, args ...any) {
	c.logger.Warn().Msgf(format, args...)
	c.emit("Warning: "+format, args...)
}

// fail records and logs a failed operation. Must be called with c.mu held.
func (c *Controller) fail(op string, code, cause error) error {
	err := &OpError{Op: op, Code: code, Err: cause}
	c.lastErr = err
	c.logger.Error().Str("op", op).Str("code", code.Error()).AnErr("cause", cause).Msg("operation failed")
	c.emit("Error: %v", err)
	return err
}

// ready checks that the session accepts commands. Must be called with c.mu held.
func (c *Controller) ready(op string) error {
	switch c.state {
	case StateClosed:
		return c.fail(op, ErrSessionClosed, nil)
	case StateUninitialized:
		return c.fail(op, ErrNotInitialized, nil)
	}
	return nil
}

func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout+commandGrace)
}

// Initialize authenticates, takes the lease and starts its keep-alive, then
// tries to register as estop owner. Losing the estop race is not an error:
// the session continues without local estop authority.
//
// A failed authentication may be retried. Any later failure keeps what was
// acquired so that Shutdown can release it.
func (c *Controller) Initialize(ctx context.Context, hostname string, creds robot.Credentials) error {
	const op = "initialize"
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return c.fail(op, ErrSessionClosed, nil)
	}
	if c.state == StateReady || c.session != nil {
		return c.fail(op, ErrAlreadyInitialized, nil)
	}

	sess := newSession(hostname)
	c.logger = c.baseLogger.With().Str("session", sess.ID).Str("hostname", hostname).Logger()

	rb, err := c.sdk.Authenticate(ctx, hostname, creds)
	if err != nil {
		return c.fail(op, ErrAuthentication, err)
	}
	sess.robot = rb
	c.session = sess
	c.info("Authenticated to %s as %s", hostname, creds.Username)

	lease, err := rb.AcquireLease(ctx)
	if err != nil {
		return c.fail(op, ErrLeaseUnavailable, err)
	}
	sess.lease = lease

	ka, err := rb.StartLeaseKeepAlive(ctx, lease)
	if err != nil {
		if rerr := rb.ReturnLease(ctx, lease); rerr != nil {
			// left in the session for Shutdown to retry
			c.logger.Error().Err(rerr).Msg("return lease failed")
		} else {
			sess.lease = robot.Lease{}
		}
		return c.fail(op, ErrLeaseUnavailable, fmt.Errorf("start keep-alive: %w", err))
	}
	sess.leaseKeepAlive = ka
	c.info("Lease acquired (epoch %d), keep-alive running", lease.Epoch)

	c.registerEstop(ctx, sess)

	c.state = StateReady
	c.lastErr = nil
	c.publish(ctx)
	return nil
}

func (c *Controller) registerEstop(ctx context.Context, sess *Session) {
	ep, err := sess.robot.RegisterEstopEndpoint(ctx, c.cfg.EstopName, c.cfg.EstopTimeout)
	if err != nil {
		if errors.Is(err, robot.ErrEstopOwned) {
			c.warn("Estop controlled elsewhere, continuing without estop control")
		} else {
			c.logger.Error().Err(err).Msg("estop registration failed")
			c.emit("Error: estop registration failed: %v; continuing without estop control", err)
		}
		return
	}

	ka, err := sess.robot.StartEstopKeepAlive(ctx, ep)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", ep.Name()).Msg("estop keep-alive failed")
		c.emit("Error: estop keep-alive failed: %v; continuing without estop control", err)
		// an endpoint that never checks in would hold the robot estopped
		if derr := sess.robot.DeregisterEstopEndpoint(ctx, ep); derr != nil {
			c.logger.Error().Err(derr).Str("endpoint", ep.Name()).Msg("deregister estop endpoint failed")
			sess.estop = ep
		}
		return
	}

	sess.estop = ep
	sess.estopKeepAlive = ka
	c.info("Estop endpoint %s registered (timeout %s)", ep.Name(), c.cfg.EstopTimeout)
}

// AllowEstop releases the estop so motors may be powered.
func (c *Controller) AllowEstop(ctx context.Context) error {
	return c.setEstop(ctx, "allow estop", false)
}

// TriggerEstop cuts motor power through the estop.
func (c *Controller) TriggerEstop(ctx context.Context) error {
	return c.setEstop(ctx, "trigger estop", true)
}

func (c *Controller) setEstop(ctx context.Context, op string, cut bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(op); err != nil {
		return err
	}
	if !c.session.EstopOwned() {
		return c.fail(op, ErrNoEstopOwnership, nil)
	}

	ctx, cancel := bounded(ctx, c.cfg.EstopTimeout)
	defer cancel()

	ep := c.session.estop
	if cut {
		if err := ep.Cut(ctx); err != nil {
			return c.fail(op, ErrCommandFailed, err)
		}
		c.motion = MotionNone
		c.info("Estop triggered")
	} else {
		if err := ep.Allow(ctx); err != nil {
			return c.fail(op, ErrCommandFailed, err)
		}
		c.info("Estop released")
	}

	c.lastErr = nil
	c.publish(ctx)
	return nil
}

// PowerOn powers the motors. It fails with ErrEstopped while the estop is
// triggered, and with ErrPowerOnTimeout if the robot is still off after the
// bounded wait.
func (c *Controller) PowerOn(ctx context.Context) error {
	const op = "power on"
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(op); err != nil {
		return err
	}
	rb := c.session.robot

	estopped, err := rb.IsEstopped(ctx)
	if err != nil {
		return c.fail(op, ErrCommandFailed, fmt.Errorf("query estop: %w", err))
	}
	if estopped {
		return c.fail(op, ErrEstopped, nil)
	}

	c.info("Powering on robot... This may take several seconds.")

	cmdCtx, cancel := bounded(ctx, c.cfg.PowerTimeout)
	err = rb.PowerOn(cmdCtx, c.cfg.PowerTimeout)
	cancel()
	if err != nil {
		switch {
		case isTimeout(err):
			return c.fail(op, ErrPowerOnTimeout, err)
		case errors.Is(err, robot.ErrEstopped):
			return c.fail(op, ErrEstopped, err)
		default:
			return c.fail(op, ErrPowerOnRejected, err)
		}
	}

	on, err := rb.IsPoweredOn(ctx)
	if err != nil {
		return c.fail(op, ErrCommandFailed, fmt.Errorf("query power: %w", err))
	}
	if !on {
		return c.fail(op, ErrPowerOnTimeout, fmt.Errorf("still powered off after %s", c.cfg.PowerTimeout))
	}

	c.info("Robot powered on.")
	c.lastErr = nil
	c.publish(ctx)
	return nil
}

// PowerOff requests a graceful power off.
func (c *Controller) PowerOff(ctx context.Context) error {
	const op = "power off"
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(op); err != nil {
		return err
	}
	if err := c.powerOff(ctx, op); err != nil {
		return err
	}
	c.lastErr = nil
	c.publish(ctx)
	return nil
}

// powerOff must be called with c.mu held and a session robot.
func (c *Controller) powerOff(ctx context.Context, op string) error {
	rb := c.session.robot

	c.info("Powering off robot...")

	cmdCtx, cancel := bounded(ctx, c.cfg.PowerTimeout)
	err := rb.PowerOff(cmdCtx, false, c.cfg.PowerTimeout)
	cancel()
	if err != nil {
		if isTimeout(err) {
			return c.fail(op, ErrPowerOffTimeout, err)
		}
		return c.fail(op, ErrCommandFailed, err)
	}

	on, err := rb.IsPoweredOn(ctx)
	if err != nil {
		return c.fail(op, ErrCommandFailed, fmt.Errorf("query power: %w", err))
	}
	if on {
		return c.fail(op, ErrPowerOffTimeout, fmt.Errorf("still powered on after %s", c.cfg.PowerTimeout))
	}

	c.motion = MotionNone
	c.info("Robot safely powered off.")
	return nil
}

// Stand commands the robot to stand and waits for completion.
func (c *Controller) Stand(ctx context.Context) error {
	return c.move(ctx, "stand", MotionStanding)
}

// Sit commands the robot to sit and waits for completion.
func (c *Controller) Sit(ctx context.Context) error {
	return c.move(ctx, "sit", MotionSitting)
}

func (c *Controller) move(ctx context.Context, op string, target Motion) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(op); err != nil {
		return err
	}
	rb := c.session.robot

	on, err := rb.IsPoweredOn(ctx)
	if err != nil {
		return c.fail(op, ErrCommandFailed, fmt.Errorf("query power: %w", err))
	}
	if !on {
		return c.fail(op, ErrNotPoweredOn, nil)
	}

	c.info("Commanding robot to %s", op)

	cmdCtx, cancel := bounded(ctx, c.cfg.MotionTimeout)
	if target == MotionStanding {
		err = rb.BlockingStand(cmdCtx, c.cfg.MotionTimeout)
	} else {
		err = rb.BlockingSit(cmdCtx, c.cfg.MotionTimeout)
	}
	cancel()
	if err != nil {
		switch {
		case isTimeout(err):
			return c.fail(op, ErrMotionTimeout, err)
		case errors.Is(err, robot.ErrNotPowered):
			return c.fail(op, ErrNotPoweredOn, err)
		default:
			return c.fail(op, ErrCommandFailed, err)
		}
	}

	c.motion = target
	c.info("Robot %s.", target)
	c.lastErr = nil
	c.publish(ctx)
	return nil
}

// Shutdown powers the robot off if needed and the lease is held, then stops
// the lease keep-alive and the estop keep-alive, in that order. Every step runs even if an earlier
// one failed; failures are logged and kept in CleanupErrors. Calling Shutdown
// again does nothing.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	c.state = StateClosed

	sess := c.session
	if sess == nil || sess.robot == nil {
		c.info("Session closed")
		c.publish(ctx)
		return
	}

	// without the lease the robot belongs to someone else
	if sess.holdsLease() {
		on, err := sess.robot.IsPoweredOn(ctx)
		if err != nil {
			c.warn("Cannot read power state (%v), powering off anyway", err)
			on = true
		}
		if on {
			if err := c.powerOff(ctx, "shutdown"); err != nil {
				c.cleanupErrs = append(c.cleanupErrs, err)
			}
		}
	}

	for _, err := range sess.release(ctx) {
		c.logger.Error().Err(err).Msg("release failed")
		c.emit("Error: %v", err)
		c.cleanupErrs = append(c.cleanupErrs, err)
	}

	c.info("Session closed")
	c.publish(ctx)
}

// Status returns a snapshot of the session and publishes it on States.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publish(ctx)
}

// publish must be called with c.mu held.
func (c *Controller) publish(ctx context.Context) Status {
	s := Status{
		State:     c.state,
		EstopName: c.cfg.EstopName,
		Motion:    c.motion,
		LastError: c.lastErr,
		Timestamp: time.Now(),
	}
	if sess := c.session; sess != nil {
		s.SessionID = sess.ID
		s.Hostname = sess.Hostname
		s.EstopOwned = sess.EstopOwned()
		if c.state == StateReady {
			s.Estopped = tristate(sess.robot.IsEstopped(ctx))
			s.PoweredOn = tristate(sess.robot.IsPoweredOn(ctx))
		}
	}
	c.sendState(s)
	return s
}

func (c *Controller) sendState(s Status) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}
