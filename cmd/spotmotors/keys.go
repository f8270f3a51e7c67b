package main

import (
	"context"

	"github.com/gwillem/spotmotors/pkg/motors"
)

// action is a console command bound to a key.
type action struct {
	name string
	run  func(*motors.Controller, context.Context) error
}

var keyActions = map[string]action{
	" ": {"trigger estop", (*motors.Controller).TriggerEstop},
	"r": {"release estop", (*motors.Controller).AllowEstop},
	"w": {"power on", (*motors.Controller).PowerOn},
	"e": {"power off", (*motors.Controller).PowerOff},
	"a": {"stand", (*motors.Controller).Stand},
	"d": {"sit", (*motors.Controller).Sit},
}

// keyHelp lists the bindings in display order.
var keyHelp = []struct{ key, desc string }{
	{"space", "estop"},
	{"r", "release"},
	{"w", "power on"},
	{"e", "power off"},
	{"a", "stand"},
	{"d", "sit"},
	{"q", "quit"},
}

func lookupAction(key string) (action, bool) {
	a, ok := keyActions[key]
	return a, ok
}

func isQuitKey(key string) bool {
	return key == "q" || key == "ctrl+c"
}
