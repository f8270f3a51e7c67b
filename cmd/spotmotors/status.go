package main

import (
	"context"
	"fmt"
)

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	logger := consoleLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	ctrl, err := connect(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	s := ctrl.Status(ctx)
	ctrl.Shutdown(ctx)

	fmt.Println(renderStatus(s))
	printCleanupErrors(ctrl.CleanupErrors())
	return nil
}
