package motors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/spotmotors/pkg/robot"
)

// Session holds the handles acquired by Initialize. Fields stay nil when the
// step that sets them never succeeded.
type Session struct {
	ID        string
	Hostname  string
	StartedAt time.Time

	robot          robot.Robot
	lease          robot.Lease
	leaseKeepAlive robot.KeepAlive
	estop          robot.EstopEndpoint
	estopKeepAlive robot.KeepAlive
}

func newSession(hostname string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}
}

// EstopOwned reports whether this session holds the estop endpoint.
func (s *Session) EstopOwned() bool {
	return s.estop != nil && s.estopKeepAlive != nil
}

// holdsLease reports whether the lease is held and kept alive. Only then may
// the session command the robot.
func (s *Session) holdsLease() bool {
	return s.robot != nil && s.leaseKeepAlive != nil
}

// release stops the lease keep-alive, then the estop keep-alive. A lease or
// endpoint whose keep-alive never started is returned or deregistered
// instead. Each step is attempted even if the previous one failed.
func (s *Session) release(ctx context.Context) []error {
	var errs []error
	switch {
	case s.leaseKeepAlive != nil:
		if err := s.leaseKeepAlive.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop lease keep-alive: %w", err))
		}
		s.leaseKeepAlive = nil
		s.lease = robot.Lease{}
	case s.lease.ID != "":
		if err := s.robot.ReturnLease(ctx, s.lease); err != nil {
			errs = append(errs, fmt.Errorf("return lease: %w", err))
		}
		s.lease = robot.Lease{}
	}

	switch {
	case s.estopKeepAlive != nil:
		if err := s.estopKeepAlive.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop estop keep-alive: %w", err))
		}
	case s.estop != nil:
		if err := s.robot.DeregisterEstopEndpoint(ctx, s.estop); err != nil {
			errs = append(errs, fmt.Errorf("deregister estop endpoint: %w", err))
		}
	}
	s.estopKeepAlive = nil
	s.estop = nil
	return errs
}
