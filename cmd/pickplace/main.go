package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup   SetupCommand   `command:"setup" description:"Find the servo bus and proximity sensor and calibrate the arm"`
	Run     RunCommand     `command:"run" description:"Run the pick-and-place cycle"`
	Devices DevicesCommand `command:"devices" alias:"ls" description:"List the devices on the rig"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "pickplace - pick-and-place controller for a servo arm with a three-finger gripper"

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
