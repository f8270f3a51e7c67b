package main

import (
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	// backends register themselves with pkg/robot
	_ "github.com/gwillem/spotmotors/pkg/robot/sim"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Config file (default ~/.spotmotors/config.toml)"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`

	Hostname      string        `long:"hostname" description:"Robot hostname or IP address"`
	Username      string        `long:"username" description:"Robot user name"`
	Backend       string        `long:"backend" description:"Robot service backend"`
	ClientName    string        `long:"client-name" description:"Client name reported to the robot"`
	EstopName     string        `long:"estop-name" description:"Name of the estop endpoint"`
	EstopTimeout  time.Duration `long:"estop-timeout" description:"Estop endpoint timeout"`
	PowerTimeout  time.Duration `long:"power-timeout" description:"Power on/off timeout"`
	MotionTimeout time.Duration `long:"motion-timeout" description:"Stand/sit timeout"`
	NoAutoAllow   bool          `long:"no-auto-allow" description:"Do not release the estop after connecting"`
	LogFile       string        `long:"log-file" description:"Console log file"`

	Setup      SetupCommand      `command:"setup" description:"Write the robot connection config"`
	Console    ConsoleCommand    `command:"console" alias:"run" description:"Interactive motor control console"`
	PowerCycle PowerCycleCommand `command:"power-cycle" description:"Power the motors on and off once"`
	Status     StatusCommand     `command:"status" description:"Print robot estop and power status"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "spotmotors - estop, power and posture console for a quadruped robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
