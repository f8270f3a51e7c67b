package motors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/spotmotors/pkg/robot"
	"github.com/gwillem/spotmotors/pkg/robot/sim"
)

const hostname = "spot"

var creds = robot.Credentials{Username: "user", Password: "password"}

func newTestController(t *testing.T, opts sim.Options) (*Controller, *sim.Robot) {
	t.Helper()
	sdk := sim.NewSDK(opts)
	c := NewController(sdk, Config{
		EstopTimeout:  time.Second,
		PowerTimeout:  200 * time.Millisecond,
		MotionTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c, sdk.Robot(hostname)
}

func mustInitialize(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Initialize(context.Background(), hostname, creds); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
}

func poweredOn(t *testing.T, r *sim.Robot) bool {
	t.Helper()
	on, err := r.IsPoweredOn(context.Background())
	if err != nil {
		t.Fatalf("IsPoweredOn() = %v", err)
	}
	return on
}

func TestController_FullCycle(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"PowerOn", c.PowerOn},
		{"Stand", c.Stand},
		{"Sit", c.Sit},
		{"PowerOff", c.PowerOff},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			t.Fatalf("%s() = %v", step.name, err)
		}
	}

	if poweredOn(t, r) {
		t.Fatal("robot should be off after PowerOff")
	}

	c.Shutdown(ctx)

	if got := r.Calls("PowerOff"); got != 1 {
		t.Errorf("PowerOff calls = %d, want 1 (shutdown must not power off again)", got)
	}
	if r.LeaseHeld() {
		t.Error("lease still held after Shutdown")
	}
	if r.EstopRegistered() {
		t.Error("estop still registered after Shutdown")
	}
	if errs := c.CleanupErrors(); len(errs) != 0 {
		t.Errorf("CleanupErrors() = %v", errs)
	}
}

func TestController_PowerOnBlockedWhileEstopped(t *testing.T) {
	sequences := [][]string{
		{"trigger"},
		{"allow"},
		{"trigger", "allow"},
		{"allow", "trigger"},
		{"trigger", "trigger"},
		{"allow", "trigger", "allow", "trigger"},
		{"trigger", "allow", "allow"},
	}

	for _, seq := range sequences {
		t.Run(strings.Join(seq, ","), func(t *testing.T) {
			ctx := context.Background()
			c, r := newTestController(t, sim.Options{})
			mustInitialize(t, c)

			for _, action := range seq {
				var err error
				if action == "trigger" {
					err = c.TriggerEstop(ctx)
				} else {
					err = c.AllowEstop(ctx)
				}
				if err != nil {
					t.Fatalf("%s estop: %v", action, err)
				}
			}

			err := c.PowerOn(ctx)
			if seq[len(seq)-1] == "trigger" {
				if !errors.Is(err, ErrEstopped) {
					t.Fatalf("PowerOn() = %v, want ErrEstopped", err)
				}
				if poweredOn(t, r) {
					t.Error("power must remain off")
				}
				if r.Calls("PowerOn") != 0 {
					t.Error("PowerOn must not reach the robot while estopped")
				}
				return
			}
			if err != nil {
				t.Fatalf("PowerOn() = %v", err)
			}
		})
	}
}

func TestController_TriggerEstopCutsPower(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Stand(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.TriggerEstop(ctx); err != nil {
		t.Fatalf("TriggerEstop() = %v", err)
	}
	if poweredOn(t, r) {
		t.Error("estop should cut motor power")
	}

	st := c.Status(ctx)
	if st.Estopped != Yes || st.PoweredOn != No {
		t.Errorf("Status estopped=%v powered=%v, want yes/no", st.Estopped, st.PoweredOn)
	}
	if st.Motion != MotionNone {
		t.Errorf("Motion = %q, want none after estop", st.Motion)
	}
	if err := c.Sit(ctx); !errors.Is(err, ErrNotPoweredOn) {
		t.Errorf("Sit() = %v, want ErrNotPoweredOn", err)
	}
}

func TestController_ShutdownIdempotent(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}

	c.Shutdown(ctx)
	if poweredOn(t, r) {
		t.Error("Shutdown should power off a powered robot")
	}
	first := map[string]int{
		"PowerOff":           r.Calls("PowerOff"),
		"StopLeaseKeepAlive": r.Calls("StopLeaseKeepAlive"),
		"StopEstopKeepAlive": r.Calls("StopEstopKeepAlive"),
	}
	if first["PowerOff"] != 1 || first["StopLeaseKeepAlive"] != 1 || first["StopEstopKeepAlive"] != 1 {
		t.Fatalf("first Shutdown calls = %v, want one each", first)
	}

	c.Shutdown(ctx)
	for method, n := range first {
		if got := r.Calls(method); got != n {
			t.Errorf("%s calls after second Shutdown = %d, want %d", method, got, n)
		}
	}

	if st := c.Status(ctx); st.State != StateClosed {
		t.Errorf("State = %v, want %v", st.State, StateClosed)
	}
}

func TestController_ClosedSession(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, sim.Options{})
	mustInitialize(t, c)
	c.Shutdown(ctx)

	ops := map[string]func(context.Context) error{
		"AllowEstop":   c.AllowEstop,
		"TriggerEstop": c.TriggerEstop,
		"PowerOn":      c.PowerOn,
		"PowerOff":     c.PowerOff,
		"Stand":        c.Stand,
		"Sit":          c.Sit,
		"Initialize": func(ctx context.Context) error {
			return c.Initialize(ctx, hostname, creds)
		},
	}
	for name, op := range ops {
		if err := op(ctx); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("%s() after Shutdown = %v, want ErrSessionClosed", name, err)
		}
	}
}

func TestController_NotInitialized(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, sim.Options{})

	ops := map[string]func(context.Context) error{
		"AllowEstop":   c.AllowEstop,
		"TriggerEstop": c.TriggerEstop,
		"PowerOn":      c.PowerOn,
		"PowerOff":     c.PowerOff,
		"Stand":        c.Stand,
		"Sit":          c.Sit,
	}
	for name, op := range ops {
		if err := op(ctx); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("%s() before Initialize = %v, want ErrNotInitialized", name, err)
		}
	}

	mustInitialize(t, c)
	if err := c.Initialize(ctx, hostname, creds); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize() = %v, want ErrAlreadyInitialized", err)
	}
}

func TestController_ShutdownBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})

	c.Shutdown(ctx)
	if r.Calls("PowerOff") != 0 || r.Calls("IsPoweredOn") != 0 {
		t.Error("Shutdown without a session must not touch the robot")
	}
	if err := c.Initialize(ctx, hostname, creds); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Initialize() after Shutdown = %v, want ErrSessionClosed", err)
	}
}

func TestController_EstopOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{EstopOwnedElsewhere: true})
	mustInitialize(t, c)

	if st := c.Status(ctx); st.EstopOwned {
		t.Error("EstopOwned should be false")
	}
	if err := c.TriggerEstop(ctx); !errors.Is(err, ErrNoEstopOwnership) {
		t.Errorf("TriggerEstop() = %v, want ErrNoEstopOwnership", err)
	}
	if err := c.AllowEstop(ctx); !errors.Is(err, ErrNoEstopOwnership) {
		t.Errorf("AllowEstop() = %v, want ErrNoEstopOwnership", err)
	}

	if err := c.PowerOn(ctx); err != nil {
		t.Fatalf("PowerOn() = %v", err)
	}
	if err := c.Stand(ctx); err != nil {
		t.Fatalf("Stand() = %v", err)
	}
	if err := c.Sit(ctx); err != nil {
		t.Fatalf("Sit() = %v", err)
	}
	if err := c.PowerOff(ctx); err != nil {
		t.Fatalf("PowerOff() = %v", err)
	}

	c.Shutdown(ctx)
	if r.Calls("StopEstopKeepAlive") != 0 {
		t.Error("no estop keep-alive should have been stopped")
	}
	if errs := c.CleanupErrors(); len(errs) != 0 {
		t.Errorf("CleanupErrors() = %v", errs)
	}
}

func TestController_ExternalEstopBlocksPowerOn(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{EstopOwnedElsewhere: true})
	mustInitialize(t, c)

	r.SetExternalEstop(true)
	if err := c.PowerOn(ctx); !errors.Is(err, ErrEstopped) {
		t.Errorf("PowerOn() = %v, want ErrEstopped", err)
	}
}

func TestController_PowerOnTimeoutThenRetry(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	r.Inject(sim.Faults{PowerOnIgnored: true})
	err := c.PowerOn(ctx)
	if !errors.Is(err, ErrPowerOnTimeout) {
		t.Fatalf("PowerOn() = %v, want ErrPowerOnTimeout", err)
	}
	if poweredOn(t, r) {
		t.Fatal("robot should still be off")
	}
	if st := c.Status(ctx); st.LastError == nil || st.State != StateReady {
		t.Errorf("Status = %+v, want Ready with LastError", st)
	}

	r.Inject(sim.Faults{})
	if err := c.PowerOn(ctx); err != nil {
		t.Fatalf("retry PowerOn() = %v", err)
	}
	if st := c.Status(ctx); st.LastError != nil {
		t.Errorf("LastError = %v after successful retry", st.LastError)
	}
}

func TestController_PowerOnSlowerThanBound(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, sim.Options{PowerOnDelay: time.Second})
	mustInitialize(t, c)

	err := c.PowerOn(ctx)
	if !errors.Is(err, ErrPowerOnTimeout) {
		t.Fatalf("PowerOn() = %v, want ErrPowerOnTimeout", err)
	}
	if !errors.Is(err, robot.ErrTimeout) {
		t.Errorf("PowerOn() = %v, should wrap robot.ErrTimeout", err)
	}
}

func TestController_PowerOnRejected(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	r.Inject(sim.Faults{RejectPowerOn: true})
	err := c.PowerOn(ctx)
	if !errors.Is(err, ErrPowerOnRejected) {
		t.Fatalf("PowerOn() = %v, want ErrPowerOnRejected", err)
	}
	if !errors.Is(err, robot.ErrRejected) {
		t.Errorf("PowerOn() = %v, should wrap robot.ErrRejected", err)
	}
}

func TestController_PowerOffTimeout(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}
	r.Inject(sim.Faults{PowerOffStuck: true})
	if err := c.PowerOff(ctx); !errors.Is(err, ErrPowerOffTimeout) {
		t.Fatalf("PowerOff() = %v, want ErrPowerOffTimeout", err)
	}
	if !poweredOn(t, r) {
		t.Error("robot should still be on")
	}

	r.Inject(sim.Faults{})
	if err := c.PowerOff(ctx); err != nil {
		t.Fatalf("retry PowerOff() = %v", err)
	}
}

func TestController_MotionRequiresPower(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	if err := c.Stand(ctx); !errors.Is(err, ErrNotPoweredOn) {
		t.Errorf("Stand() = %v, want ErrNotPoweredOn", err)
	}
	if err := c.Sit(ctx); !errors.Is(err, ErrNotPoweredOn) {
		t.Errorf("Sit() = %v, want ErrNotPoweredOn", err)
	}
	if r.Calls("BlockingStand") != 0 || r.Calls("BlockingSit") != 0 {
		t.Error("motion commands must not reach an unpowered robot")
	}
}

func TestController_MotionTimeout(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{MotionDelay: time.Second})
	mustInitialize(t, c)

	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := c.Stand(ctx)
	if !errors.Is(err, ErrMotionTimeout) {
		t.Fatalf("Stand() = %v, want ErrMotionTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Stand() took %v, should return at the bound", elapsed)
	}
	if r.Standing() {
		t.Error("robot should not be standing")
	}
	if st := c.Status(ctx); st.Motion != MotionNone {
		t.Errorf("Motion = %q after timeout", st.Motion)
	}
}

func TestController_AuthenticationFailure(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{Username: "admin", Password: "secret"})

	err := c.Initialize(ctx, hostname, creds)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Initialize() = %v, want ErrAuthentication", err)
	}
	if c.Session() != nil {
		t.Error("no session should be kept after authentication failure")
	}

	if err := c.Initialize(ctx, hostname, robot.Credentials{Username: "admin", Password: "secret"}); err != nil {
		t.Fatalf("retry Initialize() = %v", err)
	}

	c.Shutdown(ctx)
	if r.LeaseHeld() {
		t.Error("lease still held after Shutdown")
	}
}

func TestController_PartialInitialize(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})

	// another client holds the lease
	if _, err := r.AcquireLease(ctx); err != nil {
		t.Fatal(err)
	}

	err := c.Initialize(ctx, hostname, creds)
	if !errors.Is(err, ErrLeaseUnavailable) {
		t.Fatalf("Initialize() = %v, want ErrLeaseUnavailable", err)
	}
	if err := c.PowerOn(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PowerOn() = %v, want ErrNotInitialized", err)
	}
	if err := c.Initialize(ctx, hostname, creds); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Initialize() after partial failure = %v, want ErrAlreadyInitialized", err)
	}

	c.Shutdown(ctx)
	if r.Calls("StopLeaseKeepAlive") != 0 || r.Calls("StopEstopKeepAlive") != 0 {
		t.Error("nothing was started, nothing should be stopped")
	}
	if errs := c.CleanupErrors(); len(errs) != 0 {
		t.Errorf("CleanupErrors() = %v", errs)
	}
}

func TestController_ShutdownLeavesForeignRobotAlone(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})

	// another operator holds the lease and is driving
	if _, err := r.AcquireLease(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.PowerOn(ctx, time.Second); err != nil {
		t.Fatal(err)
	}

	if err := c.Initialize(ctx, hostname, creds); !errors.Is(err, ErrLeaseUnavailable) {
		t.Fatalf("Initialize() = %v, want ErrLeaseUnavailable", err)
	}
	c.Shutdown(ctx)

	if n := r.Calls("PowerOff"); n != 0 {
		t.Errorf("PowerOff calls = %d, want 0", n)
	}
	if n := r.Calls("IsPoweredOn"); n != 0 {
		t.Errorf("IsPoweredOn calls = %d, want 0", n)
	}
	if !poweredOn(t, r) {
		t.Error("robot of another operator was powered off")
	}
	if !r.LeaseHeld() {
		t.Error("lease of another operator was released")
	}
}

func TestController_LeaseKeepAliveFailure(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	r.Inject(sim.Faults{LeaseKeepAliveErr: errors.New("renewal rejected")})

	if err := c.Initialize(ctx, hostname, creds); !errors.Is(err, ErrLeaseUnavailable) {
		t.Fatalf("Initialize() = %v, want ErrLeaseUnavailable", err)
	}
	if r.LeaseHeld() {
		t.Error("lease not returned after keep-alive failure")
	}
	if n := r.Calls("ReturnLease"); n != 1 {
		t.Errorf("ReturnLease calls = %d, want 1", n)
	}

	c.Shutdown(ctx)
	if n := r.Calls("PowerOff"); n != 0 {
		t.Errorf("PowerOff calls = %d, want 0", n)
	}
	if n := r.Calls("ReturnLease"); n != 1 {
		t.Errorf("ReturnLease calls after Shutdown = %d, want 1", n)
	}
	if errs := c.CleanupErrors(); len(errs) != 0 {
		t.Errorf("CleanupErrors() = %v", errs)
	}
}

func TestController_EstopKeepAliveFailure(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	r.Inject(sim.Faults{EstopKeepAliveErr: errors.New("check-in rejected")})

	mustInitialize(t, c)

	if r.EstopRegistered() {
		t.Error("endpoint without keep-alive still registered")
	}
	if c.Session().EstopOwned() {
		t.Error("session should not own the estop")
	}
	if err := c.TriggerEstop(ctx); !errors.Is(err, ErrNoEstopOwnership) {
		t.Errorf("TriggerEstop() = %v, want ErrNoEstopOwnership", err)
	}

	r.Inject(sim.Faults{})
	if err := c.PowerOn(ctx); err != nil {
		t.Errorf("PowerOn() = %v", err)
	}
}

func TestController_ShutdownRetriesEstopDeregister(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	r.Inject(sim.Faults{
		EstopKeepAliveErr: errors.New("check-in rejected"),
		DeregisterErr:     errors.New("estop service unreachable"),
	})

	mustInitialize(t, c)
	if !r.EstopRegistered() {
		t.Fatal("endpoint should remain registered while deregister fails")
	}

	r.Inject(sim.Faults{})
	c.Shutdown(ctx)

	if r.EstopRegistered() {
		t.Error("Shutdown did not deregister the orphaned endpoint")
	}
	if n := r.Calls("DeregisterEstopEndpoint"); n != 2 {
		t.Errorf("DeregisterEstopEndpoint calls = %d, want 2", n)
	}
	if errs := c.CleanupErrors(); len(errs) != 0 {
		t.Errorf("CleanupErrors() = %v", errs)
	}
}

func indexOf(calls []string, method string) int {
	for i, m := range calls {
		if m == method {
			return i
		}
	}
	return -1
}

func TestController_ShutdownOrder(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)
	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}

	c.Shutdown(ctx)

	calls := r.CallLog()
	order := []string{"PowerOff", "StopLeaseKeepAlive", "StopEstopKeepAlive"}
	prev := -1
	for _, method := range order {
		i := indexOf(calls, method)
		if i < 0 {
			t.Fatalf("%s not called: %v", method, calls)
		}
		if i < prev {
			t.Errorf("%s ran out of order: %v", method, calls)
		}
		prev = i
	}
}

func TestController_ShutdownContinuesAfterReleaseFailure(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	leaseErr := errors.New("lease service unreachable")
	r.Inject(sim.Faults{LeaseStopErr: leaseErr})

	c.Shutdown(ctx)

	if r.Calls("StopEstopKeepAlive") != 1 {
		t.Error("estop keep-alive must be stopped even if the lease stop failed")
	}
	if r.EstopRegistered() {
		t.Error("estop endpoint still registered")
	}
	errs := c.CleanupErrors()
	if len(errs) != 1 || !errors.Is(errs[0], leaseErr) {
		t.Errorf("CleanupErrors() = %v, want [%v]", errs, leaseErr)
	}
}

func TestController_ShutdownPowersOffWhenQueryFails(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)
	if err := c.PowerOn(ctx); err != nil {
		t.Fatal(err)
	}

	r.Inject(sim.Faults{QueryErr: errors.New("link down")})
	c.Shutdown(ctx)

	if r.Calls("PowerOff") != 1 {
		t.Errorf("PowerOff calls = %d, want 1", r.Calls("PowerOff"))
	}
	if r.Calls("StopLeaseKeepAlive") != 1 {
		t.Error("lease keep-alive not stopped")
	}
	// power off could not be confirmed
	if len(c.CleanupErrors()) != 1 {
		t.Errorf("CleanupErrors() = %v, want one", c.CleanupErrors())
	}
}

func TestController_StatusAndLogs(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	select {
	case st := <-c.States():
		if st.State != StateReady {
			t.Errorf("published State = %v, want Ready", st.State)
		}
	default:
		t.Fatal("Initialize should publish a status")
	}

	st := c.Status(ctx)
	if st.SessionID == "" || st.SessionID != c.Session().ID {
		t.Errorf("SessionID = %q, want %q", st.SessionID, c.Session().ID)
	}
	if !st.EstopOwned || st.EstopName != robot.DefaultEstopName {
		t.Errorf("estop owned=%v name=%q", st.EstopOwned, st.EstopName)
	}
	if st.Estopped != No || st.PoweredOn != No {
		t.Errorf("estopped=%v powered=%v, want no/no", st.Estopped, st.PoweredOn)
	}

	var lines []string
	for len(c.Logs()) > 0 {
		lines = append(lines, <-c.Logs())
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Authenticated to spot", "Lease acquired", "Estop endpoint SpotMotorEstop registered"} {
		if !strings.Contains(joined, want) {
			t.Errorf("logs missing %q:\n%s", want, joined)
		}
	}
}

func TestController_StatusUnknownOnQueryFailure(t *testing.T) {
	ctx := context.Background()
	c, r := newTestController(t, sim.Options{})
	mustInitialize(t, c)

	r.Inject(sim.Faults{QueryErr: errors.New("link down")})
	st := c.Status(ctx)
	if st.Estopped != Unknown || st.PoweredOn != Unknown {
		t.Errorf("estopped=%v powered=%v, want unknown", st.Estopped, st.PoweredOn)
	}
	if err := c.PowerOn(ctx); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("PowerOn() = %v, want ErrCommandFailed", err)
	}
	r.Inject(sim.Faults{})
}
