package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gwillem/spotmotors/pkg/motors"
	"github.com/gwillem/spotmotors/pkg/robot"
)

type PowerCycleCommand struct{}

func (c *PowerCycleCommand) Execute(args []string) error {
	logger := consoleLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctrl, err := connect(context.Background(), cfg, &logger)
	if err != nil {
		return err
	}
	return powerCycle(context.Background(), ctrl, logger)
}

// connect builds a controller for cfg and initializes it. On failure the
// partial session is already shut down.
func connect(ctx context.Context, cfg robot.Config, logger *zerolog.Logger) (*motors.Controller, error) {
	sdk, err := robot.Lookup(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("no password: set %s", robot.EnvPassword)
	}

	ctrl := motors.NewController(sdk, motors.ConfigFrom(cfg, logger))
	logger.Debug().Str("hostname", cfg.Hostname).Str("backend", cfg.Backend).Msg("connecting")
	if err := ctrl.Initialize(ctx, cfg.Hostname, cfg.Credentials()); err != nil {
		ctrl.Shutdown(ctx)
		return nil, err
	}
	return ctrl, nil
}

// powerCycle allows the estop, powers on, powers off and shuts down. The
// first failure is returned after the shutdown.
func powerCycle(ctx context.Context, ctrl *motors.Controller, logger zerolog.Logger) error {
	defer ctrl.Shutdown(ctx)

	if sess := ctrl.Session(); sess != nil && sess.EstopOwned() {
		if err := ctrl.AllowEstop(ctx); err != nil {
			return err
		}
	}
	if err := ctrl.PowerOn(ctx); err != nil {
		return err
	}
	logger.Info().Msg("motors powered on")
	if err := ctrl.PowerOff(ctx); err != nil {
		return err
	}
	logger.Info().Msg("motors powered off")
	return nil
}
