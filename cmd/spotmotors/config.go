package main

import (
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/spotmotors/pkg/robot"
)

var configFlags = []string{
	"hostname", "username", "backend", "client-name", "estop-name",
	"estop-timeout", "power-timeout", "motion-timeout", "no-auto-allow", "log-file",
}

// changedFlags reports which config flags were given on the command line.
func changedFlags(p *flags.Parser) map[string]bool {
	changed := make(map[string]bool)
	for _, name := range configFlags {
		if o := p.FindOptionByLongName(name); o != nil && o.IsSet() {
			changed[name] = true
		}
	}
	return changed
}

func (o *Options) configPath() string {
	if o.Config != "" {
		return o.Config
	}
	return robot.DefaultConfigPath()
}

func loadConfig() (robot.Config, error) {
	return resolveConfig(&opts, changedFlags(parser))
}

// resolveConfig layers defaults, the config file, the environment and the
// flags in changed, later layers winning.
func resolveConfig(o *Options, changed map[string]bool) (robot.Config, error) {
	cfg := robot.DefaultConfig()

	path := o.configPath()
	if robot.ConfigExists(path) {
		fc, err := robot.LoadFileConfig(path)
		if err != nil {
			return cfg, err
		}
		if err := robot.ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	} else if o.Config != "" {
		return cfg, fmt.Errorf("config file %s not found", path)
	}

	robot.ApplyEnvConfig(&cfg, changed)
	o.applyFlags(&cfg, changed)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o *Options) applyFlags(cfg *robot.Config, changed map[string]bool) {
	if changed["hostname"] {
		cfg.Hostname = o.Hostname
	}
	if changed["username"] {
		cfg.Username = o.Username
	}
	if changed["backend"] {
		cfg.Backend = o.Backend
	}
	if changed["client-name"] {
		cfg.ClientName = o.ClientName
	}
	if changed["estop-name"] {
		cfg.EstopName = o.EstopName
	}
	if changed["estop-timeout"] {
		cfg.EstopTimeout = o.EstopTimeout
	}
	if changed["power-timeout"] {
		cfg.PowerTimeout = o.PowerTimeout
	}
	if changed["motion-timeout"] {
		cfg.MotionTimeout = o.MotionTimeout
	}
	if changed["no-auto-allow"] {
		cfg.AutoAllow = !o.NoAutoAllow
	}
	if changed["log-file"] {
		cfg.LogFile = o.LogFile
	}
}
