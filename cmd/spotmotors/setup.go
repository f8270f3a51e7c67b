package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/spotmotors/pkg/robot"
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("spotmotors setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	path := opts.configPath()
	cfg := robot.DefaultConfig()
	if robot.ConfigExists(path) {
		fc, err := robot.LoadFileConfig(path)
		if err != nil {
			return err
		}
		if err := robot.ApplyFileConfig(&cfg, fc, nil); err != nil {
			return err
		}
		fmt.Printf("Editing existing config %s\n\n", path)
	}
	robot.ApplyEnvConfig(&cfg, nil)
	opts.applyFlags(&cfg, changedFlags(parser))

	if err := setupForm(&cfg).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println()
			os.Exit(0)
		}
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", path)
	fmt.Printf("The password is not stored; set %s or enter it when prompted.\n", robot.EnvPassword)
	fmt.Println()
	fmt.Println("Start the console with: " + headerStyle.Render("spotmotors console"))
	return nil
}

func setupForm(cfg *robot.Config) *huh.Form {
	var backends []huh.Option[string]
	for _, name := range robot.Backends() {
		backends = append(backends, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Robot hostname").
				Description("Hostname or IP address of the robot").
				Value(&cfg.Hostname).
				Validate(required("hostname")),
			huh.NewInput().
				Title("Username").
				Value(&cfg.Username).
				Validate(required("username")),
			huh.NewSelect[string]().
				Title("Backend").
				Options(backends...).
				Value(&cfg.Backend),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Estop endpoint name").
				Value(&cfg.EstopName).
				Validate(required("estop name")),
			huh.NewConfirm().
				Title("Release the estop after connecting?").
				Description("The console can also release it with 'r'").
				Value(&cfg.AutoAllow),
		),
	)
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
