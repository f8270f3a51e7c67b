// Package spotmotors provides an operator console for the motors of a Spot
// quadruped robot.
//
// The console authenticates against the robot, takes the body lease, registers
// a software estop endpoint and then lets the operator cut or release the
// estop, power the motors on and off, and command stand and sit. On exit it
// powers the motors off and releases everything it acquired.
//
// # Installation
//
//	go install github.com/gwillem/spotmotors/cmd/spotmotors@latest
//
// # Usage
//
// First, write the connection settings:
//
//	spotmotors setup
//
// Then start the console:
//
//	spotmotors console
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/spotmotors: CLI with setup, console, power-cycle and status commands
//   - pkg/motors: Session lifecycle controller
//   - pkg/robot: Robot service interfaces, backend registry and configuration
//   - pkg/robot/sim: In-process simulated robot backend
package spotmotors
