package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/spotmotors/pkg/robot"
)

type keepAlive struct {
	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
	onStop   func() error
	err      error
}

// startKeepAlive runs tick every interval until Stop.
func startKeepAlive(interval time.Duration, tick func(), onStop func() error) *keepAlive {
	if interval <= 0 {
		interval = time.Second
	}
	k := &keepAlive{
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		onStop: onStop,
	}

	go func() {
		defer close(k.exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick()
		for {
			select {
			case <-k.done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return k
}

// Stop ends the renewal loop. Later calls return the first result.
func (k *keepAlive) Stop() error {
	k.stopOnce.Do(func() {
		close(k.done)
		<-k.exited
		k.err = k.onStop()
	})
	return k.err
}

type endpoint struct {
	robot   *Robot
	name    string
	timeout time.Duration
}

var _ robot.EstopEndpoint = (*endpoint)(nil)

func (e *endpoint) Name() string { return e.name }

func (e *endpoint) Allow(ctx context.Context) error {
	e.robot.count("EstopAllow")
	return e.set(false)
}

func (e *endpoint) Cut(ctx context.Context) error {
	e.robot.count("EstopCut")
	return e.set(true)
}

func (e *endpoint) set(cut bool) error {
	r := e.robot
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.estop != e {
		return fmt.Errorf("sim: estop endpoint %q not registered", e.name)
	}
	r.cut = cut
	if cut {
		r.powerLost()
	}
	return nil
}
