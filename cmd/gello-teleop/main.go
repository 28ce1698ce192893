package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Run     RunCommand     `command:"run" description:"Run the pedal-armed teleoperation daemon"`
	Check   CheckCommand   `command:"check" description:"Check controllers, arms and pedal without moving anything"`
	Monitor MonitorCommand `command:"monitor" description:"Run teleoperation with a live TUI"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "gello-teleop - dual-arm teleoperation from handheld exoskeleton controllers"

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
