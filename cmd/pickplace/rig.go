package main

import (
	"context"
	"errors"
	"log"

	"github.com/gwillem/pickplace/pkg/robot"
	"github.com/gwillem/pickplace/pkg/sim"
)

type rigOptions struct {
	sim              bool
	realTime         bool
	requireProximity bool
}

// openRig returns the simulated cell or the servo-bus rig described by cfg,
// with a function that releases it.
func openRig(ctx context.Context, cfg *robot.Config, opts rigOptions) (robot.Hardware, func(), error) {
	if opts.sim {
		world := sim.New(sim.Options{
			Arm:      cfg.Arm,
			Fingers:  cfg.Fingers,
			RealTime: opts.realTime,
		})
		return world, func() {}, nil
	}

	var proximity *robot.SerialProximity
	if cfg.Proximity.Port != "" {
		p, err := robot.OpenSerialProximity(cfg.Proximity)
		if err != nil {
			return nil, nil, err
		}
		proximity = p
	} else if opts.requireProximity {
		return nil, nil, errors.New("no proximity sensor port configured")
	}

	rig, err := robot.NewFeetechRig(ctx, cfg, proximity, nil)
	if err != nil {
		if proximity != nil {
			proximity.Close()
		}
		return nil, nil, err
	}

	return rig, func() {
		if err := rig.Close(); err != nil {
			log.Printf("Error closing rig: %v", err)
		}
	}, nil
}
